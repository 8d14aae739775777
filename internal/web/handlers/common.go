package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, person.ErrInvalidInput), errors.Is(err, embedding.ErrInvalidVector):
		return http.StatusBadRequest
	case errors.Is(err, person.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recognition.ErrAlreadyRunning), errors.Is(err, recognition.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, person.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError sends err with the status matching its kind.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

// toVectors validates raw embeddings from a request body.
func toVectors(raw [][]float32) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, 0, len(raw))
	for _, r := range raw {
		v, err := embedding.New(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// HealthHandler reports service health.
type HealthHandler struct {
	store   *person.Store
	session *recognition.Session
	backend string
}

// NewHealthHandler creates a new health handler. session may be nil.
func NewHealthHandler(store *person.Store, session *recognition.Session, backend string) *HealthHandler {
	return &HealthHandler{store: store, session: session, backend: backend}
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Persons int    `json:"persons"`
	Backend string `json:"backend"`
	Session string `json:"session"`
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	state := "disabled"
	if h.session != nil {
		state = h.session.State().String()
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Persons: h.store.Len(),
		Backend: h.backend,
		Session: state,
	})
}
