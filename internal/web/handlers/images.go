package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kozaktomas/familiar-faces/internal/camera"
	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

var (
	errNoDetector = errors.New("face detection is not configured")
	errBadImage   = errors.New("unsupported image")
)

// readUploadedImage reads the "file" part of a multipart request.
func readUploadedImage(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("file is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	return data, nil
}

// detectImage normalizes an uploaded image and runs face detection on it.
// The returned bytes are the normalized JPEG.
func detectImage(ctx context.Context, detector recognition.Detector, data []byte) ([]byte, []recognition.Detection, error) {
	if detector == nil {
		return nil, nil, errNoDetector
	}
	jpegData, err := camera.ResizeImage(data, constants.MaxImageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errBadImage, err)
	}
	dets, err := detector.DetectAndEmbed(ctx, recognition.Frame{Data: jpegData, Source: "upload"})
	if err != nil {
		return nil, nil, fmt.Errorf("face detection failed: %w", err)
	}
	return jpegData, dets, nil
}

// detectStatus maps a detectImage error to an HTTP status.
func detectStatus(err error) int {
	switch {
	case errors.Is(err, errNoDetector):
		return http.StatusServiceUnavailable
	case errors.Is(err, errBadImage):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
