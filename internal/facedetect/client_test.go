package facedetect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}

func TestDetectAndEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("expected image/jpeg part, got %s", ct)
		}
		data, _ := io.ReadAll(file)
		if len(data) != len(jpegHeader) {
			t.Errorf("expected %d bytes, got %d", len(jpegHeader), len(data))
		}

		_ = json.NewEncoder(w).Encode(FaceResponse{
			FacesCount: 2,
			Faces: []Face{
				{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, BBox: []float64{10, 20, 110, 140}, DetScore: 0.92},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}, BBox: []float64{200, 20, 260, 90}, DetScore: 0.41},
			},
			Model: "buffalo_l",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", 3)
	dets, err := c.DetectAndEmbed(context.Background(), recognition.Frame{Data: jpegHeader})
	if err != nil {
		t.Fatalf("DetectAndEmbed failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].BBox != (recognition.BBox{10, 20, 110, 140}) {
		t.Errorf("unexpected bbox %v", dets[0].BBox)
	}
	if dets[0].BBox.Width() != 100 || dets[0].BBox.Height() != 120 {
		t.Errorf("unexpected bbox size %vx%v", dets[0].BBox.Width(), dets[0].BBox.Height())
	}
	if dets[1].Confidence != 0.41 {
		t.Errorf("expected confidence 0.41, got %f", dets[1].Confidence)
	}
}

func TestDetectAndEmbed_RejectsWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces_count":1,"faces":[{"embedding":[1,2],"bbox":[0,0,1,1],"det_score":0.9}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 512)
	if _, err := c.DetectAndEmbed(context.Background(), recognition.Frame{Data: jpegHeader}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestDetectFaces_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0)
	_, err := c.DetectFaces(context.Background(), jpegHeader)
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected status 503 error, got %v", err)
	}
}

func TestDetectFaces_EmptyImage(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 0)
	if _, err := c.DetectFaces(context.Background(), nil); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", jpegHeader, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"bmp", []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, "image/bmp"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("plain text data"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.expected {
				t.Errorf("detectMIMEType() = %s; want %s", got, tc.expected)
			}
		})
	}
}
