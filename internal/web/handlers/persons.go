package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// PersonsHandler handles person database endpoints.
type PersonsHandler struct {
	store    *person.Store
	detector recognition.Detector
	imageDir string
	now      func() time.Time
}

// NewPersonsHandler creates a new persons handler. detector may be nil, which
// disables enrollment from images.
func NewPersonsHandler(store *person.Store, detector recognition.Detector, imageDir string) *PersonsHandler {
	return &PersonsHandler{store: store, detector: detector, imageDir: imageDir, now: time.Now}
}

// PersonResponse represents a person in API responses.
type PersonResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Relation       string    `json:"relation"`
	Notes          string    `json:"notes"`
	EmbeddingCount int       `json:"embedding_count"`
	ImagePaths     []string  `json:"image_paths"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func personToResponse(r person.Record) PersonResponse {
	paths := r.ImagePaths
	if paths == nil {
		paths = []string{}
	}
	return PersonResponse{
		ID:             r.ID,
		Name:           r.Name,
		Relation:       r.Relation,
		Notes:          r.Notes,
		EmbeddingCount: len(r.Embeddings),
		ImagePaths:     paths,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// MutationResponse is returned by endpoints changing the database. Warning is
// set when the change is live in memory but could not be persisted.
type MutationResponse struct {
	ID      string          `json:"id"`
	Person  *PersonResponse `json:"person,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// persist saves the store and returns a warning when that fails.
func (h *PersonsHandler) persist(r *http.Request) string {
	if err := h.store.Persist(r.Context()); err != nil {
		log.Printf("warning: %v", err)
		return err.Error()
	}
	return ""
}

func (h *PersonsHandler) mutationResponse(r *http.Request, id string) MutationResponse {
	resp := MutationResponse{ID: id, Warning: h.persist(r)}
	if rec, err := h.store.Get(id); err == nil {
		p := personToResponse(rec)
		resp.Person = &p
	}
	return resp
}

// List returns all persons, or those matching the "name" query parameter.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	var records []person.Record
	if name := r.URL.Query().Get("name"); name != "" {
		records = h.store.FindByName(name)
	} else {
		records = h.store.List().Records()
	}

	result := make([]PersonResponse, len(records))
	for i, rec := range records {
		result[i] = personToResponse(rec)
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns a single person.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, personToResponse(rec))
}

// CreatePersonRequest is the body of the create endpoint.
type CreatePersonRequest struct {
	Name       string      `json:"name"`
	Relation   string      `json:"relation"`
	Notes      string      `json:"notes"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Create enrolls a new person from raw embeddings.
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	vecs, err := toVectors(req.Embeddings)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	id, err := h.store.Enroll(req.Name, req.Relation, req.Notes, vecs)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.mutationResponse(r, id))
}

// CreateFromImage enrolls a new person from an uploaded photo. The largest
// face in the photo is used and the photo is kept with the person.
func (h *PersonsHandler) CreateFromImage(w http.ResponseWriter, r *http.Request) {
	data, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	jpegData, face, ok := h.detectEnrollmentFace(w, r, data)
	if !ok {
		return
	}

	vec, err := embedding.New(face.Embedding)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	id, err := h.store.Enroll(name, r.FormValue("relation"), r.FormValue("notes"), []embedding.Vector{vec})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.saveImage(id, jpegData)
	respondJSON(w, http.StatusCreated, h.mutationResponse(r, id))
}

// UpdatePersonRequest is the body of the update endpoint. Omitted fields are kept.
type UpdatePersonRequest struct {
	Name     *string `json:"name"`
	Relation *string `json:"relation"`
	Notes    *string `json:"notes"`
}

// Update changes name, relation or notes of a person.
func (h *PersonsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	err := h.store.Update(id, person.Update{Name: req.Name, Relation: req.Relation, Notes: req.Notes})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.mutationResponse(r, id))
}

// Delete removes a person. Stored images are left on disk.
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Remove(id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MutationResponse{ID: id, Warning: h.persist(r)})
}

// AddEmbeddingRequest is the body of the add-embedding endpoint.
type AddEmbeddingRequest struct {
	Embedding []float32 `json:"embedding"`
}

// AddEmbedding appends a raw embedding to a person.
func (h *PersonsHandler) AddEmbedding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddEmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	vec, err := embedding.New(req.Embedding)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := h.store.AddEmbedding(id, vec); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.mutationResponse(r, id))
}

// AddImage adds the largest face of an uploaded photo to a person.
func (h *PersonsHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.Get(id); err != nil {
		respondDomainError(w, err)
		return
	}

	data, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	jpegData, face, ok := h.detectEnrollmentFace(w, r, data)
	if !ok {
		return
	}

	vec, err := embedding.New(face.Embedding)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := h.store.AddEmbedding(id, vec); err != nil {
		respondDomainError(w, err)
		return
	}
	h.saveImage(id, jpegData)
	respondJSON(w, http.StatusOK, h.mutationResponse(r, id))
}

// detectEnrollmentFace finds the face to enroll. On failure it writes the
// response and returns false.
func (h *PersonsHandler) detectEnrollmentFace(w http.ResponseWriter, r *http.Request, data []byte) ([]byte, recognition.Detection, bool) {
	jpegData, dets, err := detectImage(r.Context(), h.detector, data)
	if err != nil {
		respondError(w, detectStatus(err), err.Error())
		return nil, recognition.Detection{}, false
	}
	face, ok := recognition.LargestFace(dets, constants.DefaultMinFaceSize, constants.DefaultEnrollConfidence)
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "no usable face found in image")
		return nil, recognition.Detection{}, false
	}
	return jpegData, face, true
}

// saveImage keeps the enrollment photo with the person. Failures only lose
// the photo, never the embedding, so they are logged.
func (h *PersonsHandler) saveImage(id string, data []byte) {
	if h.imageDir == "" {
		return
	}
	path, err := person.SaveImage(h.imageDir, id, data, h.now())
	if err != nil {
		log.Printf("warning: failed to save image for %s: %v", sanitizeForLog(id), err)
		return
	}
	if err := h.store.AddImage(id, path); err != nil {
		log.Printf("warning: failed to record image for %s: %v", sanitizeForLog(id), err)
	}
}
