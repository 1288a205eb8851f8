package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/live-ingest/telemetry"
)

// HandleEvents streams canonical events as Server-Sent Events. Each event is
// one "data:" line holding the JSON envelope; a comment line is written every
// heartbeat so idle proxies keep the stream open.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.hub == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}
	rc := http.NewResponseController(w)
	// the stream outlives the server's WriteTimeout
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	log := telemetry.LoggerWithCorr(r.Context())
	log.Debug("event stream opened", slog.String("remote_addr", r.RemoteAddr), slog.String("component", "http"))
	defer log.Debug("event stream closed", slog.String("remote_addr", r.RemoteAddr), slog.String("component", "http"))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case b, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
