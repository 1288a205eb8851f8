package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/live-ingest/chat"
	"github.com/onnwee/live-ingest/event"
)

// Controller is the part of chat.Runner the HTTP surface drives.
type Controller interface {
	Status() []chat.Status
	Connect(ctx context.Context, provider event.Provider, channel string) error
	Disconnect(ctx context.Context, provider event.Provider) error
	SetIngestion(ctx context.Context, on bool) error
}

// Check is one readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	runner    Controller
	hub       *Hub
	checks    []Check
	heartbeat time.Duration
}

// NewHandlers creates a Handlers over the given dependencies. hub may be nil,
// which disables /events.
func NewHandlers(runner Controller, hub *Hub, checks ...Check) *Handlers {
	return &Handlers{runner: runner, hub: hub, checks: checks, heartbeat: 15 * time.Second}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", slog.Any("err", err), slog.String("component", "http"))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleStatus returns the per-provider snapshot published by the runner.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{"providers": h.runner.Status()}
	if h.hub != nil {
		resp["subscribers"] = h.hub.Subscribers()
		resp["subscriber_drops"] = h.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
