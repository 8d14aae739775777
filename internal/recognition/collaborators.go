package recognition

import (
	"context"
	"errors"
	"time"
)

// ErrFrameUnavailable is returned by a FrameSource when no frame could be
// captured this tick. The session treats it as a skipped cycle.
var ErrFrameUnavailable = errors.New("frame unavailable")

// Frame is one captured camera image.
type Frame struct {
	Data       []byte
	Source     string
	CapturedAt time.Time
}

// BBox is a face bounding box as [x1, y1, x2, y2] in pixels.
type BBox [4]float64

// Width returns the horizontal size of the box.
func (b BBox) Width() float64 { return b[2] - b[0] }

// Height returns the vertical size of the box.
func (b BBox) Height() float64 { return b[3] - b[1] }

// Detection is one face found by a Detector.
type Detection struct {
	BBox       BBox      `json:"bbox"`
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"det_score"`
}

// Detector finds faces in a frame and computes an embedding for each.
type Detector interface {
	DetectAndEmbed(ctx context.Context, frame Frame) ([]Detection, error)
}

// FrameSource captures frames, usually from a camera.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
}

// Event is emitted when a known person is recognized outside their cooldown window.
type Event struct {
	PersonID   string    `json:"person_id"`
	Name       string    `json:"name"`
	Relation   string    `json:"relation,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Similarity float64   `json:"similarity"`
	DetectedAt time.Time `json:"detected_at"`
}

// Consumer receives recognition events. Calls are asynchronous and may overlap.
type Consumer interface {
	OnRecognition(ev Event)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ev Event)

// OnRecognition implements Consumer.
func (f ConsumerFunc) OnRecognition(ev Event) { f(ev) }

// LargestFace returns the detection with the largest bounding box area among
// those at least minSize pixels wide and tall and scoring minConfidence or more.
func LargestFace(detections []Detection, minSize, minConfidence float64) (Detection, bool) {
	var best Detection
	var bestArea float64
	found := false
	for _, d := range detections {
		w, h := d.BBox.Width(), d.BBox.Height()
		if w < minSize || h < minSize || d.Confidence < minConfidence {
			continue
		}
		if area := w * h; !found || area > bestArea {
			best, bestArea, found = d, area, true
		}
	}
	return best, found
}
