package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/familiar-faces/internal/database"
)

// PersonRepository implements database.PersonBackend on PostgreSQL.
// Save replaces all rows inside one transaction and Load reads inside a
// repeatable-read transaction, so a loader never sees a half-written database.
type PersonRepository struct {
	pool *Pool
}

// NewPersonRepository creates a new person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

// Describe implements database.PersonBackend.
func (r *PersonRepository) Describe() string {
	return "postgres"
}

// Load implements database.PersonBackend.
func (r *PersonRepository) Load(ctx context.Context) (database.PersonData, error) {
	tx, err := r.pool.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	data, err := loadPersons(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := loadEmbeddings(ctx, tx, data); err != nil {
		return nil, err
	}
	return data, tx.Commit()
}

func loadPersons(ctx context.Context, tx *sql.Tx) (database.PersonData, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, relation, notes, image_paths, created_at, updated_at
		FROM persons
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	data := make(database.PersonData)
	for rows.Next() {
		var p database.StoredPerson
		var paths []string
		if err := rows.Scan(&p.ID, &p.Name, &p.Relation, &p.Notes, pq.Array(&paths), &p.Created, &p.Updated); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.ImagePaths = paths
		data[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return data, nil
}

func loadEmbeddings(ctx context.Context, tx *sql.Tx, data database.PersonData) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT person_id, embedding
		FROM person_embeddings
		ORDER BY person_id, position
	`)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var personID string
		var vec pgvector.Vector
		if err := rows.Scan(&personID, &vec); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		p, ok := data[personID]
		if !ok {
			continue
		}
		p.Embeddings = append(p.Embeddings, vec.Slice())
		data[personID] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	return nil
}

// Save implements database.PersonBackend. The previous content is replaced.
func (r *PersonRepository) Save(ctx context.Context, data database.PersonData) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Embeddings go with their persons via ON DELETE CASCADE.
	if _, err := tx.ExecContext(ctx, "DELETE FROM persons"); err != nil {
		return fmt.Errorf("clear persons: %w", err)
	}

	for id, p := range data {
		paths := p.ImagePaths
		if paths == nil {
			paths = []string{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO persons (id, name, relation, notes, image_paths, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, p.Name, p.Relation, p.Notes, pq.Array(paths), p.Created, p.Updated)
		if err != nil {
			return fmt.Errorf("insert person %s: %w", id, err)
		}

		for pos, emb := range p.Embeddings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO person_embeddings (person_id, position, embedding)
				VALUES ($1, $2, $3)
			`, id, pos, pgvector.NewVector(emb))
			if err != nil {
				return fmt.Errorf("insert embedding %d of %s: %w", pos, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ database.PersonBackend = (*PersonRepository)(nil)
