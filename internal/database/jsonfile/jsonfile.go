// Package jsonfile stores the person database as a single JSON document on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/kozaktomas/familiar-faces/internal/database"
)

// Backend is a database.PersonBackend backed by one JSON file.
type Backend struct {
	path string
}

// New creates a backend for the given file path. The parent directory is
// created on first Save.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the JSON file location.
func (b *Backend) Path() string {
	return b.path
}

// Describe implements database.PersonBackend.
func (b *Backend) Describe() string {
	return "json:" + b.path
}

// Load reads and decodes the JSON document.
func (b *Backend) Load(ctx context.Context) (database.PersonData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path) //nolint:gosec // path is from trusted config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", database.ErrNotExist, b.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}

	var persons database.PersonData
	if err := json.Unmarshal(data, &persons); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", database.ErrCorrupt, b.path, err)
	}
	if persons == nil {
		persons = database.PersonData{}
	}
	return persons, nil
}

// Save writes the document to a temporary file in the same directory and
// renames it over the target, so readers never observe a partial write.
func (b *Backend) Save(ctx context.Context, persons database.PersonData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if persons == nil {
		persons = database.PersonData{}
	}

	data, err := json.MarshalIndent(persons, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding person database: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o750); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	if err := renameio.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", b.path, err)
	}
	return nil
}
