package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/remote"
)

// LastLocationCmd implements the 'last-location' command.
type LastLocationCmd struct {
	User string `arg:"" optional:"" help:"User number to query (defaults to the session's target user)"`
}

func (l *LastLocationCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	user := l.User
	if user == "" {
		if cfg.Session.Role == config.RoleSupporter && cfg.Session.TargetUser != "" {
			user = cfg.Session.TargetUser
		} else {
			user = cfg.Session.UserNumber
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := remote.NewClient(nil, cfg.Server, cfg.Session)
	loc, err := client.FetchLastLocation(ctx, user)
	if err != nil {
		return fmt.Errorf("fetch last location: %w", err)
	}

	at := time.UnixMilli(loc.Timestamp).Local()
	fmt.Printf("User %s: %.6f,%.6f at %s (%s ago)\n",
		user, loc.Latitude, loc.Longitude,
		at.Format(time.RFC3339), time.Since(at).Round(time.Second))
	return nil
}
