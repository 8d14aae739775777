package person

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/database"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
)

// Options configures a Store.
type Options struct {
	// Dim fixes the embedding dimensionality. 0 means it is taken from the
	// first enrolled or loaded embedding.
	Dim int
	// MaxEmbeddings caps embeddings per person. Defaults to 5.
	MaxEmbeddings int
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

// Store is the single owner of person records.
//
// Reads go through List, which returns an immutable Snapshot. Writers are
// serialized and publish a fresh Snapshot atomically, so readers holding an
// older Snapshot are never affected by concurrent enrollment or removal.
type Store struct {
	backend       database.PersonBackend
	maxEmbeddings int
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string

	mu        sync.Mutex // serializes writers
	persistMu sync.Mutex // serializes backend saves
	snap      atomic.Pointer[Snapshot]
}

// NewStore creates an empty store backed by backend. Call Load to read persisted data.
// backend may be nil for a purely in-memory store.
func NewStore(backend database.PersonBackend, opts Options) *Store {
	if opts.MaxEmbeddings <= 0 {
		opts.MaxEmbeddings = constants.DefaultMaxEmbeddingsPerPerson
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Store{
		backend:       backend,
		maxEmbeddings: opts.MaxEmbeddings,
		logger:        opts.Logger,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	s.snap.Store(emptySnapshot(max(opts.Dim, 0)))
	return s
}

// MaxEmbeddings returns the per-person embedding cap.
func (s *Store) MaxEmbeddings() int {
	return s.maxEmbeddings
}

// Backend describes where the store persists to.
func (s *Store) Backend() string {
	if s.backend == nil {
		return "memory"
	}
	return s.backend.Describe()
}

// List returns the current snapshot.
func (s *Store) List() *Snapshot {
	return s.snap.Load()
}

// Len returns the number of persons in the current snapshot.
func (s *Store) Len() int {
	return s.List().Len()
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (Record, error) {
	r, ok := s.List().Get(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// FindByName returns all records whose normalized name equals the normalized query.
func (s *Store) FindByName(name string) []Record {
	want := NormalizeName(name)
	if want == "" {
		return nil
	}
	var out []Record
	s.List().Range(func(r *Record) bool {
		if NormalizeName(r.Name) == want {
			out = append(out, r.Clone())
		}
		return true
	})
	return out
}

// mutate applies fn to a copy of the current state and publishes the result.
// When fn fails nothing is published.
func (s *Store) mutate(fn func(b *builder) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	b := cur.toBuilder()
	if err := fn(b); err != nil {
		return err
	}
	s.snap.Store(b.build(cur.version + 1))
	return nil
}

// checkVector validates one embedding against the store dimensionality.
// dim of 0 accepts any length.
func checkVector(v embedding.Vector, dim int) (embedding.Vector, error) {
	valid, err := embedding.New(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if dim != 0 && valid.Dim() != dim {
		return nil, fmt.Errorf("%w: embedding has dimension %d, store uses %d", ErrInvalidInput, valid.Dim(), dim)
	}
	return valid, nil
}

// Enroll creates a new person with 1..MaxEmbeddings embeddings and returns its ID.
func (s *Store) Enroll(name, relation, notes string, embeddings []embedding.Vector) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(embeddings) == 0 {
		return "", fmt.Errorf("%w: at least one embedding is required", ErrInvalidInput)
	}
	if len(embeddings) > s.maxEmbeddings {
		return "", fmt.Errorf("%w: %d embeddings exceed the limit of %d", ErrInvalidInput, len(embeddings), s.maxEmbeddings)
	}

	var id string
	err := s.mutate(func(b *builder) error {
		dim := b.dim
		if dim == 0 {
			dim = embeddings[0].Dim()
		}
		vectors := make([]embedding.Vector, 0, len(embeddings))
		for _, e := range embeddings {
			v, err := checkVector(e, dim)
			if err != nil {
				return err
			}
			vectors = append(vectors, v)
		}

		id = s.newID()
		if _, exists := b.records[id]; exists {
			return fmt.Errorf("generated duplicate person ID %s", id)
		}
		now := s.now()
		b.dim = dim
		b.records[id] = Record{
			ID:         id,
			Name:       name,
			Relation:   strings.TrimSpace(relation),
			Notes:      strings.TrimSpace(notes),
			Embeddings: vectors,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("person enrolled", "id", id, "name", name, "embeddings", len(embeddings))
	return id, nil
}

// AddEmbedding appends an embedding to a person. When the person is at the
// cap the oldest embedding is evicted first.
func (s *Store) AddEmbedding(id string, e embedding.Vector) error {
	return s.mutate(func(b *builder) error {
		r, ok := b.records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v, err := checkVector(e, b.dim)
		if err != nil {
			return err
		}

		keep := r.Embeddings
		if len(keep) >= s.maxEmbeddings {
			keep = keep[len(keep)-s.maxEmbeddings+1:]
		}
		next := make([]embedding.Vector, 0, len(keep)+1)
		next = append(next, keep...)
		r.Embeddings = append(next, v)
		r.UpdatedAt = s.now()
		b.records[id] = r
		return nil
	})
}

// AddImage records the path of an enrollment image for a person.
func (s *Store) AddImage(id, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: image path is required", ErrInvalidInput)
	}
	return s.mutate(func(b *builder) error {
		r, ok := b.records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		paths := make([]string, 0, len(r.ImagePaths)+1)
		r.ImagePaths = append(append(paths, r.ImagePaths...), path)
		r.UpdatedAt = s.now()
		b.records[id] = r
		return nil
	})
}

// Update changes name, relation and/or notes of a person.
func (s *Store) Update(id string, u Update) error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
	}
	return s.mutate(func(b *builder) error {
		r, ok := b.records[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if u.Name != nil {
			r.Name = strings.TrimSpace(*u.Name)
		}
		if u.Relation != nil {
			r.Relation = strings.TrimSpace(*u.Relation)
		}
		if u.Notes != nil {
			r.Notes = strings.TrimSpace(*u.Notes)
		}
		if !u.IsEmpty() {
			r.UpdatedAt = s.now()
		}
		b.records[id] = r
		return nil
	})
}

// Remove deletes a person.
func (s *Store) Remove(id string) error {
	err := s.mutate(func(b *builder) error {
		if _, ok := b.records[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		delete(b.records, id)
		return nil
	})
	if err == nil {
		s.logger.Info("person removed", "id", id)
	}
	return err
}

// Persist writes the current snapshot to the backend. On failure the
// in-memory store is unchanged and the error wraps ErrStorageUnavailable.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	// Taken under persistMu so a later Persist never writes an older snapshot.
	snap := s.List()
	if err := s.backend.Save(ctx, toPersonData(snap)); err != nil {
		return fmt.Errorf("%w: saving to %s: %w", ErrStorageUnavailable, s.backend.Describe(), err)
	}
	s.logger.Debug("person database saved", "backend", s.backend.Describe(), "persons", snap.Len(), "version", snap.Version())
	return nil
}

// Load replaces the store contents with the backend data.
//
// A missing or unreadable backend leaves an empty store and returns a warning
// wrapping ErrStorageUnavailable (and database.ErrNotExist or database.ErrCorrupt).
// Individual invalid records are skipped and logged.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	data, loadErr := s.backend.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	b := &builder{dim: cur.dim, records: map[string]Record{}}
	if loadErr != nil {
		s.snap.Store(b.build(cur.version + 1))
		return fmt.Errorf("%w: loading from %s: %w", ErrStorageUnavailable, s.backend.Describe(), loadErr)
	}

	for _, id := range sortedIDs(data) {
		stored := data[id]
		r, err := s.fromStored(id, stored, b.dim)
		if err != nil {
			s.logger.Warn("skipping invalid person record", "id", id, "error", err)
			continue
		}
		if b.dim == 0 {
			b.dim = r.Embeddings[0].Dim()
		}
		b.records[r.ID] = r
	}

	s.snap.Store(b.build(cur.version + 1))
	s.logger.Info("person database loaded", "backend", s.backend.Describe(), "persons", len(b.records))
	return nil
}

func (s *Store) fromStored(key string, p database.StoredPerson, dim int) (Record, error) {
	if p.ID == "" {
		p.ID = key
	}
	if p.ID != key {
		return Record{}, fmt.Errorf("record id %q does not match key", p.ID)
	}
	if len(p.Embeddings) == 0 {
		return Record{}, errors.New("record has no embeddings")
	}

	raw := p.Embeddings
	if len(raw) > s.maxEmbeddings {
		raw = raw[len(raw)-s.maxEmbeddings:]
	}
	if dim == 0 {
		dim = len(raw[0])
	}

	vectors := make([]embedding.Vector, 0, len(raw))
	for i, e := range raw {
		v, err := checkVector(e, dim)
		if err != nil {
			return Record{}, fmt.Errorf("embedding %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}

	return Record{
		ID:         p.ID,
		Name:       p.Name,
		Relation:   p.Relation,
		Notes:      p.Notes,
		Embeddings: vectors,
		ImagePaths: append([]string(nil), p.ImagePaths...),
		CreatedAt:  p.Created,
		UpdatedAt:  p.Updated,
	}, nil
}

func toPersonData(snap *Snapshot) database.PersonData {
	data := make(database.PersonData, snap.Len())
	snap.Range(func(r *Record) bool {
		embs := make([][]float32, len(r.Embeddings))
		for i, e := range r.Embeddings {
			embs[i] = []float32(e)
		}
		paths := r.ImagePaths
		if paths == nil {
			paths = []string{}
		}
		data[r.ID] = database.StoredPerson{
			ID:         r.ID,
			Name:       r.Name,
			Relation:   r.Relation,
			Notes:      r.Notes,
			Created:    r.CreatedAt,
			Updated:    r.UpdatedAt,
			Embeddings: embs,
			ImagePaths: paths,
		}
		return true
	})
	return data
}

func sortedIDs(data database.PersonData) []string {
	// sorted so dimension inference does not depend on map order
	return slices.Sorted(maps.Keys(data))
}
