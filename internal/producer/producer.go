// Package producer drives location fix acquisition. Two instances of the
// same poller serve the engine: a foreground producer on a short interval
// and a background producer on a long one. They publish onto the shared
// event bus and never talk to consumers directly.
package producer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/observability"
	"git.home.luguber.info/inful/fencewatch/internal/retry"
)

const (
	Foreground = "foreground"
	Background = "background"
)

// Producer polls a Provider on a fixed interval and publishes every new
// fix as a FixObserved event.
type Producer struct {
	name     string
	provider location.Provider
	interval time.Duration
	bus      *events.Bus
	policy   retry.Policy
	recorder metrics.Recorder
	logger   *slog.Logger

	lastPublished time.Time
}

func New(name string, provider location.Provider, interval time.Duration, bus *events.Bus, policy retry.Policy, logger *slog.Logger) *Producer {
	return &Producer{
		name:     name,
		provider: provider,
		interval: interval,
		bus:      bus,
		policy:   policy,
		recorder: metrics.NoopRecorder{},
		logger:   logger.With(slog.String("component", "producer"), logfields.Producer(name)),
	}
}

// WithRecorder injects a metrics recorder.
func (p *Producer) WithRecorder(r metrics.Recorder) *Producer {
	p.recorder = r
	return p
}

// Name returns the producer's identity ("foreground" or "background").
func (p *Producer) Name() string { return p.name }

// Start brings the underlying provider up, retrying transient failures
// per the restart policy. All attempts failing is a hard error: tracking
// is considered not-started and the caller must surface it.
func (p *Producer) Start(ctx context.Context) error {
	err := p.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			p.recorder.IncProducerRestart(p.name)
		}
		if startErr := p.provider.Start(ctx); startErr != nil {
			if trkerrors.IsCategory(startErr, trkerrors.CategoryPermission) {
				// Permission denials never heal on retry.
				return startErr
			}
			p.logger.Warn("provider start failed",
				logfields.Attempt(attempt),
				logfields.Error(startErr))
			return trkerrors.ProducerStartError(p.name, startErr)
		}
		return nil
	})
	if err == nil {
		p.logger.Info("fix producer started", slog.Duration("interval", p.interval))
		return nil
	}
	if trkerrors.IsCategory(err, trkerrors.CategoryPermission) || errors.Is(err, context.Canceled) {
		return err
	}
	return trkerrors.ProducerExhausted(p.name, p.policy.MaxRetries, err)
}

// Run polls until ctx is canceled. It does not stop the provider; the
// lifecycle controller owns that so a momentary consumer restart does not
// tear down the OS watch.
func (p *Producer) Run(ctx context.Context) {
	ctx = observability.WithProducer(ctx, p.name)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Producer) tick(ctx context.Context) {
	fix, err := p.provider.Current(ctx)
	if err != nil {
		if !errors.Is(err, location.ErrNoFix) {
			p.logger.Warn("fix acquisition failed", logfields.Error(err))
		}
		return
	}

	// The provider may return the same fix on consecutive ticks when the
	// receiver has gone quiet; publish each fix once.
	if !fix.Timestamp.After(p.lastPublished) {
		return
	}
	p.lastPublished = fix.Timestamp

	p.recorder.IncFixObserved(p.name)
	if err := p.bus.Publish(ctx, events.FixObserved{
		Fix:        fix,
		Producer:   p.name,
		ObservedAt: time.Now(),
	}); err != nil {
		p.logger.Warn("failed to publish fix", logfields.Error(err))
	}
}

// Stop tears the provider down.
func (p *Producer) Stop() error {
	if err := p.provider.Stop(); err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryProducer, trkerrors.SeverityWarning, "provider stop failed").
			WithContext("producer", p.name)
	}
	p.logger.Info("fix producer stopped")
	return nil
}
