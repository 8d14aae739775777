package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Ordered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("SELECT 2;")},
		"migrations/001_first.sql":  {Data: []byte("SELECT 1;")},
		"migrations/readme.md":      {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].version != "001_first.sql" || got[1].version != "002_second.sql" {
		t.Errorf("unexpected order: %s, %s", got[0].version, got[1].version)
	}
	if got[0].sql != "SELECT 1;" {
		t.Errorf("unexpected content %q", got[0].sql)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 || got[0].version != "001_persons.sql" {
		t.Fatalf("expected 001_persons.sql first, got %+v", got)
	}
	for _, table := range []string{"persons", "person_embeddings"} {
		if !strings.Contains(got[0].sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("expected %s table in initial migration", table)
		}
	}
}
