package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/live-ingest/chat"
	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/event"
)

type controlRequest struct {
	Provider string `json:"provider"`
	Channel  string `json:"channel"`
}

// readControl takes provider and channel from a JSON body, falling back to
// query parameters.
func readControl(w http.ResponseWriter, r *http.Request) (controlRequest, error) {
	var req controlRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid body: %w", err)
		}
	}
	q := r.URL.Query()
	if req.Provider == "" {
		req.Provider = q.Get("provider")
	}
	if req.Channel == "" {
		req.Channel = q.Get("channel")
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Channel = strings.TrimSpace(req.Channel)
	if req.Provider == "" {
		return req, errors.New("provider is required")
	}
	return req, nil
}

// controlStatus maps a runner error to an HTTP status.
func controlStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, connection.ErrEmptyCredentials):
		return http.StatusBadRequest
	case errors.Is(err, connection.ErrNotDisconnected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	}
	switch connection.Classify(err) {
	case connection.ClassAuth:
		return http.StatusUnauthorized
	case connection.ClassFatal:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// HandleAdminConnect starts a session for a provider.
func (h *Handlers) HandleAdminConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := readControl(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.runner.Connect(r.Context(), event.Provider(req.Provider), req.Channel); err != nil {
		writeError(w, controlStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "provider": req.Provider, "channel": req.Channel})
}

// HandleAdminDisconnect ends a provider's session.
func (h *Handlers) HandleAdminDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := readControl(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.runner.Disconnect(r.Context(), event.Provider(req.Provider)); err != nil {
		writeError(w, controlStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "provider": req.Provider})
}

// HandleAdminIngestion switches ingestion with ?on=true|false.
func (h *Handlers) HandleAdminIngestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("query parameter on must be true or false"))
		return
	}
	if err := h.runner.SetIngestion(r.Context(), on); err != nil {
		writeError(w, controlStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ingesting": on})
}
