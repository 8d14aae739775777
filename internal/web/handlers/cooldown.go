package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/familiar-faces/internal/cooldown"
)

// CooldownHandler exposes operator actions on the announcement cooldown.
type CooldownHandler struct {
	gate *cooldown.Gate
}

// NewCooldownHandler creates a new cooldown handler.
func NewCooldownHandler(gate *cooldown.Gate) *CooldownHandler {
	return &CooldownHandler{gate: gate}
}

// CooldownResponse describes the cooldown of one person.
type CooldownResponse struct {
	PersonID      string     `json:"person_id"`
	LastAnnounced *time.Time `json:"last_announced,omitempty"`
	Interval      string     `json:"interval"`
}

// Get returns when a person was last announced.
func (h *CooldownHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := CooldownResponse{PersonID: id, Interval: h.gate.Interval().String()}
	if last, ok := h.gate.LastAnnounced(id); ok {
		resp.LastAnnounced = &last
	}
	respondJSON(w, http.StatusOK, resp)
}

// Reset lets a person be announced again at the next sighting.
func (h *CooldownHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.gate.Reset(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Clear resets the cooldown of everyone.
func (h *CooldownHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.gate.Clear()
	w.WriteHeader(http.StatusNoContent)
}
