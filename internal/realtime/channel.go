// Package realtime streams location fixes over NATS with lower latency
// than the periodic HTTP submission. The channel is best-effort: when it
// is disconnected the pipeline keeps running on HTTP semantics alone.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
)

const defaultSubjectPrefix = "fencewatch.location"

// FixMessage is the wire shape of a streamed fix.
type FixMessage struct {
	UserNumber   string  `json:"userNumber"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Accuracy     float64 `json:"accuracy"`
	Timestamp    int64   `json:"timestamp"` // unix millis
	BatteryLevel *int    `json:"batteryLevel,omitempty"`
}

// Channel manages the NATS connection for fix streaming.
type Channel struct {
	conn          *nats.Conn
	subjectPrefix string
	userNumber    string
	logger        *slog.Logger
}

// Connect establishes the realtime channel. The connection retries
// forever in the background; a server outage at startup is not fatal
// because the pipeline degrades to HTTP while disconnected.
func Connect(cfg config.RealtimeConfig, session config.SessionConfig, logger *slog.Logger) (*Channel, error) {
	logger = logger.With(slog.String("component", "realtime"))

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("realtime channel disconnected, degrading to periodic HTTP", logfields.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("realtime channel reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryRealtime, trkerrors.SeverityWarning, "failed to connect realtime channel").
			WithContext("url", cfg.URL)
	}

	logger.Info("realtime channel initialized",
		slog.String("url", cfg.URL),
		slog.String("subject_prefix", prefix))

	return &Channel{
		conn:          conn,
		subjectPrefix: prefix,
		userNumber:    session.UserNumber,
		logger:        logger,
	}, nil
}

// Connected reports whether fixes are currently streaming.
func (c *Channel) Connected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// PublishFix streams one fix. While disconnected the error carries the
// realtime category so callers can treat it as a degrade signal rather
// than a failure.
func (c *Channel) PublishFix(_ context.Context, fix location.Fix, batteryLevel *int) error {
	if !c.Connected() {
		return trkerrors.New(trkerrors.CategoryRealtime, trkerrors.SeverityWarning, "realtime channel not connected")
	}

	msg := FixMessage{
		UserNumber:   c.userNumber,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Accuracy:     fix.Accuracy,
		Timestamp:    fix.Timestamp.UnixMilli(),
		BatteryLevel: batteryLevel,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryInternal, trkerrors.SeverityError, "failed to marshal fix message")
	}

	if err := c.conn.Publish(c.subjectPrefix+"."+c.userNumber, data); err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryRealtime, trkerrors.SeverityWarning, "failed to publish fix")
	}
	return nil
}

// SubscribeFixes delivers streamed fixes for a user. Supporter mode uses
// this to follow the watched user with sub-second latency.
func (c *Channel) SubscribeFixes(userNumber string, handler func(FixMessage)) (func(), error) {
	if c == nil || c.conn == nil {
		return nil, trkerrors.New(trkerrors.CategoryRealtime, trkerrors.SeverityError, "realtime channel not initialized")
	}

	sub, err := c.conn.Subscribe(c.subjectPrefix+"."+userNumber, func(m *nats.Msg) {
		var msg FixMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Warn("dropping malformed fix message", logfields.Error(err))
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryRealtime, trkerrors.SeverityError, "failed to subscribe").
			WithContext("user", userNumber)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains and closes the connection.
func (c *Channel) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
