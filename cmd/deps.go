package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/familiar-faces/internal/config"
	"github.com/kozaktomas/familiar-faces/internal/cooldown"
	"github.com/kozaktomas/familiar-faces/internal/database"
	"github.com/kozaktomas/familiar-faces/internal/database/jsonfile"
	"github.com/kozaktomas/familiar-faces/internal/database/postgres"
	"github.com/kozaktomas/familiar-faces/internal/matcher"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// openBackend selects PostgreSQL when DATABASE_URL is set and the JSON file
// otherwise. The returned close function is never nil.
func openBackend(ctx context.Context, cfg *config.Config) (database.PersonBackend, func(), error) {
	if cfg.Database.URL == "" {
		return jsonfile.New(cfg.Storage.PersonDBPath), func() {}, nil
	}

	fmt.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	closeFn := func() {
		if err := pool.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
	return postgres.NewPersonRepository(pool), closeFn, nil
}

// openStore loads the person database. A missing, unreadable or unreachable
// database is reported and the store starts empty.
func openStore(ctx context.Context, cfg *config.Config) (*person.Store, func()) {
	backend, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		// Saves keep failing until restart.
		backend = database.Unavailable{Location: "postgres", Err: err}
		closeFn = func() {}
	}

	store := person.NewStore(backend, person.Options{
		Dim:           cfg.Embedding.Dim,
		MaxEmbeddings: cfg.Recognition.MaxEmbeddingsPerPerson,
	})
	switch err := store.Load(ctx); {
	case err == nil:
		fmt.Printf("Loaded %d persons from %s\n", store.Len(), backend.Describe())
	case errors.Is(err, database.ErrNotExist):
		fmt.Printf("No person database at %s yet, starting empty\n", backend.Describe())
	default:
		fmt.Printf("Warning: %v\n", err)
		fmt.Println("Starting with an empty person database")
	}
	return store, closeFn
}

// newSession builds the recognition session the way serve runs it.
func newSession(cfg *config.Config, store *person.Store, m matcher.Resolver,
	detector recognition.Detector, consumer recognition.Consumer,
) *recognition.Session {
	return recognition.NewSession(store, recognition.Options{
		Matcher:             m,
		Gate:                cooldown.NewGate(cfg.Recognition.CooldownInterval()),
		Detector:            detector,
		Consumer:            consumer,
		ConfidenceThreshold: cfg.Recognition.DetectionConfidenceThreshold,
		PollInterval:        cfg.Recognition.PollInterval(),
	})
}

func newMatcher(rc config.RecognitionConfig) matcher.Resolver {
	if rc.MatcherIndex == config.IndexHNSW {
		return matcher.NewIndexed(rc.SimilarityThreshold)
	}
	return matcher.NewExact(rc.SimilarityThreshold)
}
