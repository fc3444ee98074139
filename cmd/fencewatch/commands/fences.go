package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/geofence"
	"git.home.luguber.info/inful/fencewatch/internal/remote"
)

// FencesCmd implements the 'fences' command.
type FencesCmd struct{}

func (f *FencesCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := remote.NewClient(nil, cfg.Server, cfg.Session)
	fences, err := client.FetchFences(ctx)
	if err != nil {
		return fmt.Errorf("fetch fences: %w", err)
	}

	if len(fences) == 0 {
		fmt.Println("No geofences configured")
		return nil
	}

	now := time.Now()
	for _, fence := range fences {
		line := fmt.Sprintf("%4d  %-24s %.6f,%.6f  %s", fence.ID, fence.Name, fence.Latitude, fence.Longitude, fence.Kind)
		if fence.Kind == geofence.Temporary {
			if fence.TimeActive(now) {
				line += "  (active now)"
			} else {
				line += fmt.Sprintf("  (%s .. %s)", fence.StartTime, fence.EndTime)
			}
		}
		fmt.Println(line)
	}
	return nil
}
