package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/realtime"
)

// WatchCmd implements the 'watch' command: stream another user's fixes
// from the realtime channel (supporter mode).
type WatchCmd struct {
	User string `arg:"" optional:"" help:"User number to watch (defaults to the session's target user)"`
}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Realtime.Enabled {
		return fmt.Errorf("realtime channel is disabled in %s", root.Config)
	}

	user := w.User
	if user == "" {
		if cfg.Session.Role == config.RoleSupporter && cfg.Session.TargetUser != "" {
			user = cfg.Session.TargetUser
		} else {
			user = cfg.Session.UserNumber
		}
	}

	channel, err := realtime.Connect(cfg.Realtime, cfg.Session, slog.Default())
	if err != nil {
		return err
	}
	defer channel.Close()

	unsubscribe, err := channel.SubscribeFixes(user, func(msg realtime.FixMessage) {
		at := time.UnixMilli(msg.Timestamp).Local()
		line := fmt.Sprintf("%s  %.6f,%.6f  ±%.0fm", at.Format("15:04:05"), msg.Latitude, msg.Longitude, msg.Accuracy)
		if msg.BatteryLevel != nil {
			line += fmt.Sprintf("  battery %d%%", *msg.BatteryLevel)
		}
		fmt.Println(line)
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Printf("Watching user %s, Ctrl-C to stop\n", user)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	return nil
}
