package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/remote"
)

// DistanceCmd implements the 'distance' command.
type DistanceCmd struct {
	Date string `arg:"" optional:"" help:"Date (YYYY-MM-DD), defaults to today"`
}

func (d *DistanceCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if d.Date != "" {
		if _, err := time.Parse("2006-01-02", d.Date); err != nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", d.Date)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := remote.NewClient(nil, cfg.Server, cfg.Session)
	result, err := client.DailyDistance(ctx, d.Date)
	if err != nil {
		return fmt.Errorf("fetch daily distance: %w", err)
	}

	label := d.Date
	if label == "" {
		label = "today"
	}
	fmt.Printf("Distance for %s: %.2f km (%d locations)\n", label, result.DistanceKm, result.LocationCount)
	return nil
}
