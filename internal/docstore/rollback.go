package docstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"go.uber.org/zap"
)

// RollbackGuard wraps a transactional store. Every call first rolls back
// any transaction left open by earlier code; if one was open, the call logs
// a warning and fails with ErrUncommittedTransaction instead of running.
//
// Begin, Commit and Rollback pass through unguarded. An explicit session
// runs its work on Unwrap(g) between g.Begin and g.Commit; any guarded call
// made while it is open aborts it.
type RollbackGuard struct {
	inner  Store
	tx     Transactional
	logger *logging.Logger
}

// NewRollbackGuard wraps s, which must be (or decorate) a Transactional.
func NewRollbackGuard(s Store, logger *logging.Logger) (*RollbackGuard, error) {
	tx, ok := Unwrap(s).(Transactional)
	if !ok {
		return nil, fmt.Errorf("%w: %s store has no transaction session", ErrUnsupportedConfig, s.Kind())
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RollbackGuard{inner: s, tx: tx, logger: logger}, nil
}

func (g *RollbackGuard) guard(ctx context.Context, op string) error {
	rolledBack, err := g.tx.Rollback()
	if err != nil {
		return fmt.Errorf("rolling back before %s: %w", op, err)
	}
	if rolledBack {
		g.logger.Warn(ctx, "rolled back uncommitted transaction",
			zap.String("operation", op),
			zap.String("index", g.inner.Index()))
		return fmt.Errorf("%w: found open transaction before %s", ErrUncommittedTransaction, op)
	}
	return nil
}

func (g *RollbackGuard) WriteDocuments(ctx context.Context, docs []Document) error {
	if err := g.guard(ctx, "WriteDocuments"); err != nil {
		return err
	}
	return g.inner.WriteDocuments(ctx, docs)
}

func (g *RollbackGuard) GetAllDocuments(ctx context.Context) ([]Document, error) {
	if err := g.guard(ctx, "GetAllDocuments"); err != nil {
		return nil, err
	}
	return g.inner.GetAllDocuments(ctx)
}

func (g *RollbackGuard) GetDocumentCount(ctx context.Context) (int, error) {
	if err := g.guard(ctx, "GetDocumentCount"); err != nil {
		return 0, err
	}
	return g.inner.GetDocumentCount(ctx)
}

func (g *RollbackGuard) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := g.guard(ctx, "QueryByEmbedding"); err != nil {
		return nil, err
	}
	return g.inner.QueryByEmbedding(ctx, emb, topK)
}

func (g *RollbackGuard) DeleteDocuments(ctx context.Context) error {
	if err := g.guard(ctx, "DeleteDocuments"); err != nil {
		return err
	}
	return g.inner.DeleteDocuments(ctx)
}

func (g *RollbackGuard) EmbeddingDim() int      { return g.inner.EmbeddingDim() }
func (g *RollbackGuard) Similarity() Similarity { return g.inner.Similarity() }
func (g *RollbackGuard) Kind() Kind             { return g.inner.Kind() }
func (g *RollbackGuard) Index() string          { return g.inner.Index() }
func (g *RollbackGuard) Close() error           { return g.inner.Close() }

func (g *RollbackGuard) Begin(ctx context.Context) error { return g.tx.Begin(ctx) }
func (g *RollbackGuard) Commit() error                   { return g.tx.Commit() }
func (g *RollbackGuard) Rollback() (bool, error)         { return g.tx.Rollback() }

// Unwrap returns the guarded store.
func (g *RollbackGuard) Unwrap() Store { return g.inner }

var (
	_ Store         = (*RollbackGuard)(nil)
	_ Transactional = (*RollbackGuard)(nil)
)
