package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/matcher"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// RecognizeHandler answers one-shot "who is this" queries. It never touches
// the cooldown gate and never emits recognition events.
type RecognizeHandler struct {
	store      *person.Store
	matcher    matcher.Resolver
	detector   recognition.Detector
	confidence float64
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(store *person.Store, m matcher.Resolver, detector recognition.Detector, confidence float64) *RecognizeHandler {
	return &RecognizeHandler{store: store, matcher: m, detector: detector, confidence: confidence}
}

// FaceResult is the answer for one face.
type FaceResult struct {
	BBox       *recognition.BBox `json:"bbox,omitempty"`
	PersonID   string            `json:"person_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Relation   string            `json:"relation,omitempty"`
	Similarity float64           `json:"similarity"`
	Known      bool              `json:"known"`
}

// RecognizeResponse is the body of the recognize endpoint.
type RecognizeResponse struct {
	Faces     []FaceResult `json:"faces"`
	Threshold float64      `json:"threshold"`
}

// RecognizeRequest is the JSON form of the recognize endpoint.
type RecognizeRequest struct {
	Embedding []float32 `json:"embedding"`
}

// Recognize resolves either a raw embedding (JSON body) or every face of an
// uploaded image (multipart "file").
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	snap := h.store.List()
	resp := RecognizeResponse{Faces: []FaceResult{}, Threshold: h.matcher.Threshold()}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		data, err := readUploadedImage(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		_, dets, err := detectImage(r.Context(), h.detector, data)
		if err != nil {
			respondError(w, detectStatus(err), err.Error())
			return
		}
		for _, d := range dets {
			if d.Confidence < h.confidence {
				continue
			}
			vec, err := embedding.New(d.Embedding)
			if err != nil {
				continue
			}
			res, err := Resolve(h.matcher, snap, vec)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			bbox := d.BBox
			res.BBox = &bbox
			resp.Faces = append(resp.Faces, res)
		}
		respondJSON(w, http.StatusOK, resp)
		return
	}

	var req RecognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	vec, err := embedding.New(req.Embedding)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	res, err := Resolve(h.matcher, snap, vec)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	resp.Faces = append(resp.Faces, res)
	respondJSON(w, http.StatusOK, resp)
}

// Resolve matches vec against snap and describes the outcome. Unknown faces
// carry the best similarity seen.
func Resolve(m matcher.Resolver, snap *person.Snapshot, vec embedding.Vector) (FaceResult, error) {
	id, err := matcher.Identify(m, snap, vec)
	if err != nil {
		return FaceResult{}, err
	}
	res := FaceResult{Similarity: id.Similarity}
	if id.Person != nil {
		res.PersonID = id.Person.ID
		res.Name = id.Person.Name
		res.Relation = id.Person.Relation
		res.Known = true
	}
	return res, nil
}
