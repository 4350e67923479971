package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mikeyg42/posecapture/internal/recorder"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/recorder/storage"
)

// StatusProvider is implemented by recorder.CaptureService.
type StatusProvider interface {
	Status() recorder.Status
}

// CaptureLister is implemented by storage.Index.
type CaptureLister interface {
	List(ctx context.Context, sessionID string, limit int) ([]storage.Record, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	recorder.Status
	Events *HubStats `json:"events,omitempty"`
}

// StatusHandler serves capture status and the capture index.
type StatusHandler struct {
	provider StatusProvider
	lister   CaptureLister
	hub      *Hub
	logger   recorderlog.Logger
}

// NewStatusHandler creates a status handler. lister and hub may be nil.
func NewStatusHandler(provider StatusProvider, lister CaptureLister, hub *Hub, logger recorderlog.Logger) *StatusHandler {
	return &StatusHandler{provider: provider, lister: lister, hub: hub, logger: logger}
}

// RegisterRoutes registers status API routes
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/captures", h.handleCaptures)
}

func (h *StatusHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.provider == nil {
		http.Error(w, "Capture service not available", http.StatusServiceUnavailable)
		return
	}

	resp := StatusResponse{Status: h.provider.Status()}
	if h.hub != nil {
		hs := h.hub.Stats()
		resp.Events = &hs
	}
	writeJSON(w, h.logger, resp)
}

// handleCaptures lists indexed artifacts: ?session=<id>&limit=<n>. The
// session defaults to the running one; session=* lists all sessions.
func (h *StatusHandler) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.lister == nil {
		http.Error(w, "Capture index disabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	limit := defaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	session := q.Get("session")
	switch {
	case session == "*":
		session = ""
	case session == "" && h.provider != nil:
		session = h.provider.Status().SessionID
	}

	records, err := h.lister.List(r.Context(), session, limit)
	if err != nil {
		h.logger.Error("Failed to list captures", recorderlog.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]storage.Artifact, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Artifact())
	}
	writeJSON(w, h.logger, out)
}
