package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/metrics"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

// startAdminServer serves health, status, lifecycle control, and metrics
// on the loopback admin listener.
func (d *Daemon) startAdminServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/healthz", d.handleHealth) // Kubernetes-style alias
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/lifecycle", d.handleLifecycle)

	if d.cfg.Admin.MetricsEnabled {
		mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	}

	d.httpServer = &http.Server{
		Addr:         d.cfg.Admin.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	d.workers.Go(func() {
		d.logger.Info("admin server listening", slog.String("addr", d.cfg.Admin.Listen))
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("admin server failed", logfields.Error(err))
		}
	})
	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Lifecycle string `json:"lifecycle"`
	Realtime  bool   `json:"realtime"`
	UptimeSec int64  `json:"uptimeSeconds"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Lifecycle: string(d.controller.Current()),
		Realtime:  d.channel.Connected(),
		UptimeSec: int64(time.Since(d.startTime).Seconds()),
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Lifecycle        string  `json:"lifecycle"`
	SessionID        string  `json:"sessionId"`
	UserNumber       string  `json:"userNumber"`
	Role             string  `json:"role"`
	UptimeSec        int64   `json:"uptimeSeconds"`
	LastFixAgeSec    float64 `json:"lastFixAgeSeconds"`
	HasFix           bool    `json:"hasFix"`
	DailyDistanceM   float64 `json:"dailyDistanceMeters"`
	DailyDate        string  `json:"dailyDistanceDate,omitempty"`
	RealtimeActive   bool    `json:"realtimeActive"`
	ContainedFences  []int   `json:"containedFences"`
	MetricsAvailable bool    `json:"metricsAvailable"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := d.GetConfig()

	resp := statusResponse{
		Lifecycle:        string(d.controller.Current()),
		SessionID:        d.client.SessionID(),
		UserNumber:       cfg.Session.UserNumber,
		Role:             string(cfg.Session.Role),
		UptimeSec:        int64(time.Since(d.startTime).Seconds()),
		RealtimeActive:   d.channel.Connected(),
		ContainedFences:  []int{},
		MetricsAvailable: cfg.Admin.MetricsEnabled,
	}

	if _, at := d.pipeline.Latest(); !at.IsZero() {
		resp.HasFix = true
		resp.LastFixAgeSec = time.Since(at).Seconds()
	}
	if rec, err := d.store.DailyDistance(ctx); err == nil {
		resp.DailyDistanceM = rec.CumulativeMeters
		resp.DailyDate = rec.Date
	}
	if inside, err := d.store.Containment(ctx); err == nil {
		for id, contained := range inside {
			if contained {
				resp.ContainedFences = append(resp.ContainedFences, id)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type lifecycleRequest struct {
	State string `json:"state"`
}

// handleLifecycle lets local tooling drive foreground/background
// transitions without signals.
func (d *Daemon) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var target statestore.LifecycleState
	switch req.State {
	case "active":
		target = statestore.StateActive
	case "transitional":
		target = statestore.StateTransitional
	case "background":
		target = statestore.StateBackground
	default:
		http.Error(w, "unknown lifecycle state", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	if err := d.controller.Transition(ctx, target); err != nil {
		d.logger.Warn("admin-driven transition rejected",
			logfields.State(req.State), logfields.Error(err))
		status := http.StatusInternalServerError
		if trkerrors.IsCategory(err, trkerrors.CategoryLifecycle) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": string(target)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
