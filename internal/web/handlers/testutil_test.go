package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/familiar-faces/internal/database/mock"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// newTestStore creates a store over a mock backend with sequential IDs p1, p2, ...
func newTestStore(t *testing.T) (*person.Store, *mock.MockPersonBackend) {
	t.Helper()
	backend := mock.NewMockPersonBackend()
	n := 0
	store := person.NewStore(backend, person.Options{NewID: func() string {
		n++
		return fmt.Sprintf("p%d", n)
	}})
	return store, backend
}

func mustEnroll(t *testing.T, s *person.Store, name string, vecs ...embedding.Vector) string {
	t.Helper()
	id, err := s.Enroll(name, "friend", "", vecs)
	if err != nil {
		t.Fatalf("enroll %s: %v", name, err)
	}
	return id
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartImageRequest builds a multipart request with a small JPEG in "file".
func multipartImageRequest(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	var imgBuf bytes.Buffer
	if err := jpeg.Encode(&imgBuf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", "face.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(imgBuf.Bytes())
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return out
}

// stubDetector returns fixed detections.
type stubDetector struct {
	detections []recognition.Detection
	err        error
}

func (s *stubDetector) DetectAndEmbed(context.Context, recognition.Frame) ([]recognition.Detection, error) {
	return s.detections, s.err
}
