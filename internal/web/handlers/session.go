package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// SessionHandler reports the state of the recognition session.
type SessionHandler struct {
	session *recognition.Session
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(session *recognition.Session) *SessionHandler {
	return &SessionHandler{session: session}
}

// SessionResponse is the body of the session endpoint.
type SessionResponse struct {
	State       string               `json:"state"`
	LastCycleAt *time.Time           `json:"last_cycle_at,omitempty"`
	LastResults []recognition.Result `json:"last_results"`
}

// Get returns the session state and the results of the last cycle.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	results, at := h.session.LastResults()
	if results == nil {
		results = []recognition.Result{}
	}
	resp := SessionResponse{State: h.session.State().String(), LastResults: results}
	if !at.IsZero() {
		resp.LastCycleAt = &at
	}
	respondJSON(w, http.StatusOK, resp)
}
