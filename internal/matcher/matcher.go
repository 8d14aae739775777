// Package matcher resolves a query face embedding to the best known person.
package matcher

import (
	"fmt"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
)

// Match is a resolved identity.
type Match struct {
	PersonID   string  `json:"person_id"`
	Similarity float64 `json:"similarity"`
}

// Resolver finds the best person for a query embedding within one snapshot.
type Resolver interface {
	// Best returns the most similar person regardless of threshold.
	// ok is false only when the snapshot is empty.
	Best(query embedding.Vector, snap *person.Snapshot) (best Match, ok bool)
	// Resolve returns the best person if its similarity reaches the threshold.
	Resolve(query embedding.Vector, snap *person.Snapshot) (Match, bool)
	// Threshold returns the minimum accepted similarity.
	Threshold() float64
}

// Exact compares the query with every enrolled embedding of every person.
// A person scores the maximum similarity over their embeddings, so one close
// enrollment image is enough to match despite pose or lighting differences.
type Exact struct {
	threshold float64
}

// NewExact creates an exhaustive matcher.
func NewExact(threshold float64) *Exact {
	return &Exact{threshold: threshold}
}

// Threshold implements Resolver.
func (m *Exact) Threshold() float64 {
	return m.threshold
}

// Best implements Resolver. Ties go to the lexicographically smaller person ID.
func (m *Exact) Best(query embedding.Vector, snap *person.Snapshot) (Match, bool) {
	var best Match
	found := false
	// Range visits records in ascending ID order; a strict comparison keeps the
	// smallest ID among equal scores.
	snap.Range(func(r *person.Record) bool {
		score, ok := personSimilarity(query, r.Embeddings)
		if ok && (!found || score > best.Similarity) {
			best = Match{PersonID: r.ID, Similarity: score}
			found = true
		}
		return true
	})
	return best, found
}

// Resolve implements Resolver. The threshold is inclusive.
func (m *Exact) Resolve(query embedding.Vector, snap *person.Snapshot) (Match, bool) {
	return applyThreshold(m.threshold)(m.Best(query, snap))
}

// personSimilarity returns the maximum similarity over a person's embeddings.
func personSimilarity(query embedding.Vector, embeddings []embedding.Vector) (float64, bool) {
	if len(embeddings) == 0 {
		return 0, false
	}
	best := embedding.Similarity(query, embeddings[0])
	for _, e := range embeddings[1:] {
		if s := embedding.Similarity(query, e); s > best {
			best = s
		}
	}
	return best, true
}

func applyThreshold(threshold float64) func(Match, bool) (Match, bool) {
	return func(best Match, ok bool) (Match, bool) {
		if !ok || best.Similarity < threshold {
			return Match{}, false
		}
		return best, true
	}
}

// Identification is the outcome of matching one face against a snapshot.
// Person is nil when the face is unknown.
type Identification struct {
	Person     *person.Record
	Similarity float64
}

// Identify checks query against the snapshot's dimension and resolves it with
// m. Unknown faces carry the best similarity seen, or zero on an empty
// snapshot.
func Identify(m Resolver, snap *person.Snapshot, query embedding.Vector) (Identification, error) {
	if snap.Dim() != 0 && query.Dim() != snap.Dim() {
		return Identification{}, fmt.Errorf("%w: embedding has %d dimensions, store has %d",
			person.ErrInvalidInput, query.Dim(), snap.Dim())
	}
	best, ok := m.Best(query, snap)
	if !ok {
		return Identification{}, nil
	}
	id := Identification{Similarity: best.Similarity}
	if best.Similarity < m.Threshold() {
		return id, nil
	}
	if rec, found := snap.Get(best.PersonID); found {
		id.Person = &rec
	}
	return id, nil
}
