package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusCmd implements the 'status' command by querying the admin server
// of a running daemon.
type StatusCmd struct {
	JSON bool `help:"Print the raw JSON status"`
}

func (s *StatusCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get("http://" + cfg.Admin.Listen + "/status")
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.Admin.Listen, err)
	}
	defer resp.Body.Close()

	var status struct {
		Lifecycle      string  `json:"lifecycle"`
		SessionID      string  `json:"sessionId"`
		UserNumber     string  `json:"userNumber"`
		Role           string  `json:"role"`
		UptimeSec      int64   `json:"uptimeSeconds"`
		LastFixAgeSec  float64 `json:"lastFixAgeSeconds"`
		HasFix         bool    `json:"hasFix"`
		DailyDistanceM float64 `json:"dailyDistanceMeters"`
		DailyDate      string  `json:"dailyDistanceDate"`
		RealtimeActive bool    `json:"realtimeActive"`
		Contained      []int   `json:"containedFences"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if s.JSON {
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Lifecycle:      %s\n", status.Lifecycle)
	fmt.Printf("User:           %s (%s)\n", status.UserNumber, status.Role)
	fmt.Printf("Session:        %s\n", status.SessionID)
	fmt.Printf("Uptime:         %s\n", (time.Duration(status.UptimeSec) * time.Second).String())
	if status.HasFix {
		fmt.Printf("Last fix:       %.0fs ago\n", status.LastFixAgeSec)
	} else {
		fmt.Println("Last fix:       none yet")
	}
	fmt.Printf("Daily distance: %.0f m (%s)\n", status.DailyDistanceM, status.DailyDate)
	fmt.Printf("Realtime:       %v\n", status.RealtimeActive)
	if len(status.Contained) > 0 {
		fmt.Printf("Inside fences:  %v\n", status.Contained)
	}
	return nil
}
