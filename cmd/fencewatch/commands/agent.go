package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/fencewatch/internal/agent"
	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/distance"
	"git.home.luguber.info/inful/fencewatch/internal/entry"
	"git.home.luguber.info/inful/fencewatch/internal/events"
	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/notify"
	"git.home.luguber.info/inful/fencewatch/internal/producer"
	"git.home.luguber.info/inful/fencewatch/internal/remote"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// AgentCmd implements the 'agent' command: the background tracking loop
// on its own, sharing the state store with a daemon that may or may not
// be running. Useful under process supervisors that manage the two
// halves separately.
type AgentCmd struct{}

func (a *AgentCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := statestore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	logger := slog.Default()
	bus := events.NewBus()
	defer bus.Close()

	client := remote.NewClient(nil, cfg.Server, cfg.Session)
	notifier := notify.NewLogNotifier(logger)
	coordinator := entry.NewCoordinator(store, client, notifier, bus, logger).
		WithLockTTL(cfg.Tracking.EntryLockTTL)
	accumulator := distance.NewAccumulator(store, logger)

	provider, err := providerFromConfig(cfg.Provider)
	if err != nil {
		return err
	}

	evaluator := geofence.Evaluator{
		EnterRadiusM: cfg.Tracking.EnterRadiusM,
		ExitRadiusM:  cfg.Tracking.ExitRadiusM,
	}
	ag := agent.New(store, provider, client, evaluator, coordinator, accumulator, agent.Options{
		Interval:           cfg.Tracking.BackgroundInterval,
		CacheRefresh:       cfg.Tracking.CacheRefreshInterval,
		StaleFixMaxAge:     cfg.Tracking.StaleFixMaxAge,
		LifecycleStaleness: cfg.Tracking.LifecycleStaleness,
	}, logger).
		WithBattery(producer.NewBatteryReader(cfg.Battery.SourcePath))

	slog.Info("background agent starting", "store", cfg.Store.Path)
	return ag.Run(ctx)
}

func providerFromConfig(cfg config.ProviderConfig) (location.Provider, error) {
	switch cfg.Kind {
	case "replay":
		return location.NewReplayProvider(cfg.ReplayPath)
	case "gpsd", "":
		return location.NewGPSDProvider(cfg.GPSDAddress), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
