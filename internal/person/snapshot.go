package person

import (
	"slices"
)

// Snapshot is an immutable point-in-time view of the store.
// Writers publish a new Snapshot instead of changing an existing one, so a
// Snapshot can be read without locks for as long as the caller needs it.
// Embedding vectors are shared between snapshots and must not be modified.
type Snapshot struct {
	version uint64
	dim     int
	records []Record // sorted by ID
	index   map[string]int
}

func emptySnapshot(dim int) *Snapshot {
	return &Snapshot{dim: dim, index: map[string]int{}}
}

// Version increases with every published change.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Dim returns the embedding dimensionality of the store, or 0 while unknown.
func (s *Snapshot) Dim() int {
	return s.dim
}

// Len returns the number of persons.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Get returns a copy of the record with the given ID.
func (s *Snapshot) Get(id string) (Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i].Clone(), true
}

// Records returns copies of all records ordered by ID.
func (s *Snapshot) Records() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Range calls fn for every record in ID order until fn returns false.
// The record passed to fn shares memory with the snapshot and is read-only.
func (s *Snapshot) Range(fn func(r *Record) bool) {
	for i := range s.records {
		if !fn(&s.records[i]) {
			return
		}
	}
}

// builder collects changes for the next snapshot.
type builder struct {
	dim     int
	records map[string]Record
}

func (s *Snapshot) toBuilder() *builder {
	b := &builder{dim: s.dim, records: make(map[string]Record, len(s.records)+1)}
	for _, r := range s.records {
		b.records[r.ID] = r
	}
	return b
}

func (b *builder) build(version uint64) *Snapshot {
	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	snap := &Snapshot{
		version: version,
		dim:     b.dim,
		records: make([]Record, len(ids)),
		index:   make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		snap.records[i] = b.records[id]
		snap.index[id] = i
	}
	return snap
}
