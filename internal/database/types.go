package database

import (
	"time"
)

// StoredPerson is the persisted form of one known person.
// Field names follow the on-disk JSON layout shared with older tooling.
type StoredPerson struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Relation   string      `json:"relation"`
	Notes      string      `json:"notes"`
	Created    time.Time   `json:"created"`
	Updated    time.Time   `json:"updated"`
	Embeddings [][]float32 `json:"embeddings"`
	ImagePaths []string    `json:"image_paths"`
}

// PersonData maps person ID to its stored record.
type PersonData map[string]StoredPerson
