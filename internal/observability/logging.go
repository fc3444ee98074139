// Package observability carries request-scoped identity through contexts
// and injects it into structured logs. Components log through plain slog;
// the ContextHandler adds whatever identity the context carries, so a
// fence-entry log line shows the user and session without every call site
// threading those fields.
package observability

import (
	"context"
	"log/slog"
)

// LogContext holds the identity attached to a context.
type LogContext struct {
	UserNumber string
	SessionID  string
	Producer   string
	FenceID    int
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithUser adds the tracked user number to the context.
func WithUser(ctx context.Context, userNumber string) context.Context {
	lc := extractLogContext(ctx)
	lc.UserNumber = userNumber
	return context.WithValue(ctx, logContextKey, lc)
}

// WithSession adds the session ID to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	lc := extractLogContext(ctx)
	lc.SessionID = sessionID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithProducer adds the producing loop's name to the context.
func WithProducer(ctx context.Context, producer string) context.Context {
	lc := extractLogContext(ctx)
	lc.Producer = producer
	return context.WithValue(ctx, logContextKey, lc)
}

// WithFence adds the fence being processed to the context.
func WithFence(ctx context.Context, fenceID int) context.Context {
	lc := extractLogContext(ctx)
	lc.FenceID = fenceID
	return context.WithValue(ctx, logContextKey, lc)
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func (lc LogContext) attrs() []slog.Attr {
	attrs := []slog.Attr{}
	if lc.UserNumber != "" {
		attrs = append(attrs, slog.String("user", lc.UserNumber))
	}
	if lc.SessionID != "" {
		attrs = append(attrs, slog.String("session", lc.SessionID))
	}
	if lc.Producer != "" {
		attrs = append(attrs, slog.String("producer", lc.Producer))
	}
	if lc.FenceID != 0 {
		attrs = append(attrs, slog.Int("fence_id", lc.FenceID))
	}
	return attrs
}
