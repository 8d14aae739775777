// Package camera provides frame sources for recognition sessions.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// ErrFrameUnavailable is returned when the camera has no frame to offer.
var ErrFrameUnavailable = recognition.ErrFrameUnavailable

const snapshotTimeout = 10 * time.Second

// HTTPSource fetches JPEG snapshots from a camera's snapshot URL.
type HTTPSource struct {
	url     string
	maxSize int
	client  *http.Client
	now     func() time.Time
}

// NewHTTPSource creates a source polling url. Frames larger than maxSize are
// downscaled before detection.
func NewHTTPSource(url string, maxSize int) *HTTPSource {
	return &HTTPSource{
		url:     url,
		maxSize: maxSize,
		client:  &http.Client{Timeout: snapshotTimeout},
		now:     time.Now,
	}
}

// Capture implements recognition.FrameSource.
func (s *HTTPSource) Capture(ctx context.Context) (recognition.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return recognition.Frame{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return recognition.Frame{}, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return recognition.Frame{}, fmt.Errorf("%w: camera returned status %d", ErrFrameUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return recognition.Frame{}, fmt.Errorf("%w: reading snapshot: %w", ErrFrameUnavailable, err)
	}
	if len(data) == 0 {
		return recognition.Frame{}, fmt.Errorf("%w: empty snapshot", ErrFrameUnavailable)
	}

	capturedAt := s.now()
	data, err = ResizeImage(data, s.maxSize)
	if err != nil {
		return recognition.Frame{}, err
	}
	return recognition.Frame{Data: data, Source: s.url, CapturedAt: capturedAt}, nil
}

// DirSource replays the images of a directory in name order, looping at the end.
// The directory is rescanned on every wrap so new files are picked up.
type DirSource struct {
	dir     string
	maxSize int
	now     func() time.Time

	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource creates a source replaying images from dir.
func NewDirSource(dir string, maxSize int) *DirSource {
	return &DirSource{dir: dir, maxSize: maxSize, now: time.Now}
}

// Capture implements recognition.FrameSource.
func (s *DirSource) Capture(ctx context.Context) (recognition.Frame, error) {
	s.mu.Lock()
	if s.next >= len(s.files) {
		files, err := ListImages(s.dir)
		if err != nil {
			s.mu.Unlock()
			return recognition.Frame{}, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
		}
		s.files = files
		s.next = 0
	}
	if len(s.files) == 0 {
		s.mu.Unlock()
		return recognition.Frame{}, fmt.Errorf("%w: no images in %s", ErrFrameUnavailable, s.dir)
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return recognition.Frame{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return recognition.Frame{}, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	data, err = ResizeImage(data, s.maxSize)
	if err != nil {
		return recognition.Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return recognition.Frame{Data: data, Source: path, CapturedAt: s.now()}, nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// ListImages returns the image files directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}
