// Package api provides the JSON handlers of the status server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/pilah/internal/store"
)

// DefaultListLimit caps GET /api/runs when no limit is given.
const DefaultListLimit = 50

// ErrBusy is returned by a TriggerFunc when a run is already active.
var ErrBusy = errors.New("run already in progress")

// TriggerFunc starts a run in the background.
type TriggerFunc func() error

// RunHandler serves the run history and starts new runs.
type RunHandler struct {
	store   *store.Store
	trigger TriggerFunc
}

// NewRunHandler creates a RunHandler. trigger may be nil, in which case
// POST /api/runs is rejected.
func NewRunHandler(s *store.Store, trigger TriggerFunc) *RunHandler {
	return &RunHandler{store: s, trigger: trigger}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.start(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type listRunsResponse struct {
	Runs []*store.Run `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs?limit=n, newest first.
func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *RunHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// start handles POST /api/runs. The run happens in the background; its result
// shows up in the history and on /api/events.
func (h *RunHandler) start(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "Runs cannot be started from this server")
		return
	}

	if err := h.trigger(); err != nil {
		if errors.Is(err, ErrBusy) {
			writeError(w, http.StatusConflict, "A run is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// SummaryHandler serves GET /api/summary.
type SummaryHandler struct {
	store *store.Store
}

// NewSummaryHandler creates a SummaryHandler.
func NewSummaryHandler(s *store.Store) *SummaryHandler {
	return &SummaryHandler{store: s}
}

func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	summary, err := h.store.Runs().Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize runs")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
