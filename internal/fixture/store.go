package fixture

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/google/uuid"
)

// StoreOption adjusts one DocumentStore request.
type StoreOption func(*storeOptions)

type storeOptions struct {
	dim int
	sim docstore.Similarity
}

// WithEmbeddingDim overrides the configured embedding dimensionality.
func WithEmbeddingDim(dim int) StoreOption {
	return func(o *storeOptions) { o.dim = dim }
}

// WithSimilarity overrides the configured similarity metric.
func WithSimilarity(sim docstore.Similarity) StoreOption {
	return func(o *storeOptions) { o.sim = sim }
}

// Small requests a 3-dimensional handle for hand-written embeddings.
func Small() StoreOption { return WithEmbeddingDim(3) }

// UniqueIndex returns a fresh index name, valid for every backend.
func UniqueIndex() string {
	return "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// DocumentStore builds a handle of kind for the current test. Each call gets
// its own index and storage directory. The handle's documents are deleted
// and the handle closed when the test ends, however it ends.
//
// sql handles are wrapped in a docstore.RollbackGuard.
func (s *Session) DocumentStore(t testing.TB, kind docstore.Kind, opts ...StoreOption) docstore.Store {
	t.Helper()
	if err := s.Err(); err != nil {
		t.Fatalf("test session unusable after bootstrap failure: %v", err)
	}
	s.reclaimAfter(t)

	o := storeOptions{dim: s.cfg.Run.EmbeddingDim, sim: docstore.Similarity(s.cfg.Run.Similarity)}
	for _, opt := range opts {
		opt(&o)
	}

	create := docstore.Options{
		Kind:         kind,
		Index:        UniqueIndex(),
		EmbeddingDim: o.dim,
		Similarity:   o.sim,
		StoragePath:  t.TempDir(),
	}
	if kind == docstore.KindSQL {
		create.SQLURL = s.SQLURL(t)
		s.ResetPostgres(t)
	}

	ctx := logging.WithTestName(context.Background(), t.Name())
	store, err := s.factory.Create(ctx, create)
	if err != nil {
		t.Fatalf("creating %s document store: %v", kind, err)
	}

	if kind == docstore.KindSQL {
		guard, err := docstore.NewRollbackGuard(store, s.logger.Named("fixture"))
		if err != nil {
			_ = store.Close()
			t.Fatalf("guarding sql store: %v", err)
		}
		store = guard
	}

	t.Cleanup(func() {
		if err := releaseStore(ctx, store); err != nil {
			t.Logf("releasing %s store %s: %v", kind, create.Index, err)
		}
	})
	return store
}

// DocumentStoreWithDocs is DocumentStore pre-populated with SampleDocs.
func (s *Session) DocumentStoreWithDocs(t testing.TB, kind docstore.Kind, opts ...StoreOption) docstore.Store {
	t.Helper()
	store := s.DocumentStore(t, kind, opts...)
	if err := store.WriteDocuments(context.Background(), SampleDocs()); err != nil {
		t.Fatalf("writing sample documents to %s store: %v", kind, err)
	}
	return store
}

// releaseStore rolls back any open session, deletes the documents and
// closes the handle. Every step runs even if an earlier one failed.
func releaseStore(ctx context.Context, store docstore.Store) error {
	var errs []error
	if tx, ok := docstore.Unwrap(store).(docstore.Transactional); ok {
		if _, err := tx.Rollback(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := store.DeleteDocuments(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func reclaimMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
