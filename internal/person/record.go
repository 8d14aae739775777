// Package person manages known identities and their enrolled face embeddings.
package person

import (
	"time"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
)

// Record is one known identity.
type Record struct {
	ID         string
	Name       string
	Relation   string
	Notes      string
	Embeddings []embedding.Vector // enrollment order, oldest first
	ImagePaths []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Embeddings = make([]embedding.Vector, len(r.Embeddings))
	for i, e := range r.Embeddings {
		out.Embeddings[i] = append(embedding.Vector(nil), e...)
	}
	out.ImagePaths = append([]string(nil), r.ImagePaths...)
	return out
}

// Update holds a partial update of the mutable metadata. Nil fields are left unchanged.
type Update struct {
	Name     *string
	Relation *string
	Notes    *string
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.Name == nil && u.Relation == nil && u.Notes == nil
}
