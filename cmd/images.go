package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/familiar-faces/internal/camera"
	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// detectImageData downscales an image and runs face detection on it.
func detectImageData(ctx context.Context, detector recognition.Detector, data []byte, source string) ([]byte, []recognition.Detection, error) {
	jpegData, err := camera.ResizeImage(data, constants.MaxImageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", source, err)
	}
	dets, err := detector.DetectAndEmbed(ctx, recognition.Frame{Data: jpegData, Source: source})
	if err != nil {
		return nil, nil, fmt.Errorf("detecting faces in %s: %w", source, err)
	}
	return jpegData, dets, nil
}
