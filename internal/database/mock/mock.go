// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/familiar-faces/internal/database"
)

// MockPersonBackend is an in-memory database.PersonBackend
type MockPersonBackend struct {
	mu   sync.Mutex
	data database.PersonData

	// Error injection
	LoadError error
	SaveError error

	// SaveCount counts successful saves
	SaveCount int
}

// NewMockPersonBackend creates a backend with no stored data (Load returns ErrNotExist)
func NewMockPersonBackend() *MockPersonBackend {
	return &MockPersonBackend{}
}

// Set replaces the stored data directly
func (m *MockPersonBackend) Set(data database.PersonData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = clonePersonData(data)
}

// Data returns a copy of the last saved data
func (m *MockPersonBackend) Data() database.PersonData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePersonData(m.data)
}

// Load returns the stored data
func (m *MockPersonBackend) Load(ctx context.Context) (database.PersonData, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, database.ErrNotExist
	}
	return clonePersonData(m.data), nil
}

// Save stores a copy of data
func (m *MockPersonBackend) Save(ctx context.Context, data database.PersonData) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = clonePersonData(data)
	m.SaveCount++
	return nil
}

// Describe returns a fixed description
func (m *MockPersonBackend) Describe() string {
	return "mock"
}

func clonePersonData(data database.PersonData) database.PersonData {
	if data == nil {
		return nil
	}
	out := make(database.PersonData, len(data))
	for id, p := range data {
		embs := make([][]float32, len(p.Embeddings))
		for i, e := range p.Embeddings {
			embs[i] = append([]float32(nil), e...)
		}
		p.Embeddings = embs
		p.ImagePaths = append([]string(nil), p.ImagePaths...)
		out[id] = p
	}
	return out
}
