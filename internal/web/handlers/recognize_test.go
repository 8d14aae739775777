package handlers

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/matcher"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

func TestRecognizeHandler_Embedding(t *testing.T) {
	store, _ := newTestStore(t)
	mustEnroll(t, store, "Jane", embedding.Vector{1, 0})
	h := NewRecognizeHandler(store, matcher.NewExact(0.6), nil, 0.5)

	tests := []struct {
		name      string
		query     []float32
		wantKnown bool
		wantSim   float64
	}{
		{"known", []float32{0.75, float32(math.Sqrt(1 - 0.75*0.75))}, true, 0.75},
		{"unknown", []float32{0.4, float32(math.Sqrt(1 - 0.4*0.4))}, false, 0.4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Recognize(rec, jsonRequest(t, http.MethodPost, "/api/v1/recognize", RecognizeRequest{Embedding: tc.query}))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decodeJSON[RecognizeResponse](t, rec)
			if len(resp.Faces) != 1 {
				t.Fatalf("expected 1 face, got %d", len(resp.Faces))
			}
			face := resp.Faces[0]
			if face.Known != tc.wantKnown || math.Abs(face.Similarity-tc.wantSim) > 1e-6 {
				t.Errorf("unexpected face %+v", face)
			}
			if tc.wantKnown && face.Name != "Jane" {
				t.Errorf("expected Jane, got %s", face.Name)
			}
		})
	}
}

func TestRecognizeHandler_WrongDimension(t *testing.T) {
	store, _ := newTestStore(t)
	mustEnroll(t, store, "Jane", embedding.Vector{1, 0})
	h := NewRecognizeHandler(store, matcher.NewExact(0.6), nil, 0.5)

	rec := httptest.NewRecorder()
	h.Recognize(rec, jsonRequest(t, http.MethodPost, "/api/v1/recognize", RecognizeRequest{Embedding: []float32{1, 0, 0}}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestRecognizeHandler_Image(t *testing.T) {
	store, _ := newTestStore(t)
	mustEnroll(t, store, "Jane", embedding.Vector{1, 0})
	det := &stubDetector{detections: []recognition.Detection{
		{BBox: recognition.BBox{10, 10, 90, 90}, Embedding: []float32{1, 0.1}, Confidence: 0.9},
		{BBox: recognition.BBox{100, 10, 180, 90}, Embedding: []float32{0, 1}, Confidence: 0.8},
		{BBox: recognition.BBox{200, 10, 280, 90}, Embedding: []float32{1, 0}, Confidence: 0.2},
	}}
	h := NewRecognizeHandler(store, matcher.NewExact(0.6), det, 0.5)

	rec := httptest.NewRecorder()
	h.Recognize(rec, multipartImageRequest(t, "/api/v1/recognize", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON[RecognizeResponse](t, rec)
	if len(resp.Faces) != 2 {
		t.Fatalf("expected 2 confident faces, got %d", len(resp.Faces))
	}
	if !resp.Faces[0].Known || resp.Faces[0].PersonID != "p1" {
		t.Errorf("expected first face to be Jane, got %+v", resp.Faces[0])
	}
	if resp.Faces[1].Known {
		t.Errorf("expected second face to be unknown, got %+v", resp.Faces[1])
	}
	if resp.Faces[0].BBox == nil || resp.Faces[0].BBox[0] != 10 {
		t.Errorf("expected bbox on image result, got %v", resp.Faces[0].BBox)
	}
}
