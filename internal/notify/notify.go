// Package notify delivers user-facing alerts for geofence transitions and
// tracking failures. The default sink logs; callers inject richer sinks
// (desktop notifications, SMS relays) behind the same interface.
package notify

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/fencewatch/internal/logfields"
)

// Notifier surfaces events to a person rather than to a log aggregator.
type Notifier interface {
	FenceEntered(ctx context.Context, fenceID int, fenceName string)
	FenceExited(ctx context.Context, fenceID int, fenceName string)
	TrackingFailed(ctx context.Context, reason string)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) FenceEntered(ctx context.Context, fenceID int, fenceName string) {
	n.logger.InfoContext(ctx, "arrived at "+fenceName,
		logfields.FenceID(fenceID),
		logfields.FenceName(fenceName))
}

func (n *LogNotifier) FenceExited(ctx context.Context, fenceID int, fenceName string) {
	n.logger.WarnContext(ctx, "left "+fenceName,
		logfields.FenceID(fenceID),
		logfields.FenceName(fenceName))
}

func (n *LogNotifier) TrackingFailed(ctx context.Context, reason string) {
	n.logger.ErrorContext(ctx, "location tracking is not running",
		slog.String("reason", reason))
}
