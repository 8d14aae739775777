//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/familiar-faces/internal/config"
	"github.com/kozaktomas/familiar-faces/internal/database"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/person"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := Open(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func TestPersonRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewPersonRepository(pool)

	t.Run("EmptyLoad", func(t *testing.T) {
		data, err := repo.Load(ctx)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(data) != 0 {
			t.Errorf("Expected empty database, got %d persons", len(data))
		}
	})

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	data := database.PersonData{
		"p1": {
			ID: "p1", Name: "Jane", Relation: "daughter", Notes: "Lives in Brno",
			Created: created, Updated: created,
			Embeddings: [][]float32{{1, 0, 0}, {0, 1, 0}},
			ImagePaths: []string{"images/p1/1.jpg"},
		},
		"p2": {
			ID: "p2", Name: "Tom", Created: created, Updated: created,
			Embeddings: [][]float32{{0, 0, 1}},
		},
	}

	t.Run("SaveAndLoad", func(t *testing.T) {
		if err := repo.Save(ctx, data); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		got, err := repo.Load(ctx)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 persons, got %d", len(got))
		}
		jane := got["p1"]
		if jane.Name != "Jane" || jane.Relation != "daughter" || jane.Notes != "Lives in Brno" {
			t.Errorf("Unexpected person %+v", jane)
		}
		if len(jane.Embeddings) != 2 || jane.Embeddings[1][1] != 1 {
			t.Errorf("Expected embeddings in insertion order, got %v", jane.Embeddings)
		}
		if len(jane.ImagePaths) != 1 || jane.ImagePaths[0] != "images/p1/1.jpg" {
			t.Errorf("Unexpected image paths %v", jane.ImagePaths)
		}
		if !jane.Created.Equal(created) {
			t.Errorf("Expected created %v, got %v", created, jane.Created)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		if err := repo.Save(ctx, database.PersonData{"p2": data["p2"]}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		got, err := repo.Load(ctx)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if _, ok := got["p1"]; ok || len(got) != 1 {
			t.Errorf("Expected only p2 after replace, got %v", got)
		}
	})

	t.Run("StoreRoundTrip", func(t *testing.T) {
		store := person.NewStore(repo, person.Options{})
		id, err := store.Enroll("Eva", "nurse", "", []embedding.Vector{{0.5, 0.5, 0}})
		if err != nil {
			t.Fatalf("Failed to enroll: %v", err)
		}
		if err := store.Persist(ctx); err != nil {
			t.Fatalf("Failed to persist: %v", err)
		}

		reloaded := person.NewStore(repo, person.Options{})
		if err := reloaded.Load(ctx); err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		rec, err := reloaded.Get(id)
		if err != nil {
			t.Fatalf("Expected enrolled person after reload: %v", err)
		}
		if rec.Name != "Eva" || len(rec.Embeddings) != 1 {
			t.Errorf("Unexpected record %+v", rec)
		}
	})
}

func TestMigrationsApplied(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	versions, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("Failed to list migrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_persons.sql" {
		t.Errorf("Expected 001_persons.sql to be applied, got %v", versions)
	}
	// Migrating again is a no-op.
	if err := pool.Migrate(context.Background()); err != nil {
		t.Errorf("Second migration run failed: %v", err)
	}
}
