package person

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio"
)

// SaveImage writes an enrollment image to <dir>/<personID>/<unix-nanos>.jpg
// and returns the written path.
func SaveImage(dir, personID string, data []byte, at time.Time) (string, error) {
	if personID == "" || filepath.Base(personID) != personID {
		return "", fmt.Errorf("%w: invalid person ID %q", ErrInvalidInput, personID)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	personDir := filepath.Join(dir, personID)
	if err := os.MkdirAll(personDir, 0o750); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}

	path := filepath.Join(personDir, strconv.FormatInt(at.UnixNano(), 10)+".jpg")
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}
