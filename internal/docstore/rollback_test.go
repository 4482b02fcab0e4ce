package docstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newGuardedSQLStore(t *testing.T) (*docstore.RollbackGuard, *logging.TestLogger) {
	t.Helper()
	dir := t.TempDir()
	f := docstore.NewFactory(docstore.Endpoints{}, nil, nil)
	s, err := f.Create(context.Background(), docstore.Options{
		Kind:         docstore.KindSQL,
		Index:        "guard_test",
		EmbeddingDim: 3,
		SQLURL:       "sqlite://" + filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)

	tl := logging.NewTestLogger()
	g, err := docstore.NewRollbackGuard(s, tl.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, tl
}

func TestRollbackGuard_CleanAccess(t *testing.T) {
	ctx := context.Background()
	g, tl := newGuardedSQLStore(t)

	require.NoError(t, g.WriteDocuments(ctx, threeDocs()))
	n, err := g.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tl.AssertNotLogged(t, zapcore.WarnLevel, "rolled back")
}

func TestRollbackGuard_OpenTransactionFailsNextAccess(t *testing.T) {
	ctx := context.Background()
	g, tl := newGuardedSQLStore(t)

	require.NoError(t, g.Begin(ctx))
	require.NoError(t, docstore.Unwrap(g).WriteDocuments(ctx, threeDocs()))

	_, err := g.GetDocumentCount(ctx)
	assert.ErrorIs(t, err, docstore.ErrUncommittedTransaction)
	tl.AssertLogged(t, zapcore.WarnLevel, "rolled back uncommitted transaction")
	tl.AssertField(t, "rolled back uncommitted transaction", "operation", "GetDocumentCount")

	// The rollback discarded the pending write and the guard is clean again.
	n, err := g.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRollbackGuard_CommittedSessionIsKept(t *testing.T) {
	ctx := context.Background()
	g, tl := newGuardedSQLStore(t)

	require.NoError(t, g.Begin(ctx))
	require.NoError(t, docstore.Unwrap(g).WriteDocuments(ctx, threeDocs()))
	require.NoError(t, g.Commit())

	n, err := g.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	tl.AssertNotLogged(t, zapcore.WarnLevel, "rolled back")
}

func TestRollbackGuard_GuardedCallAbortsOpenSession(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuardedSQLStore(t)

	require.NoError(t, g.Begin(ctx))
	err := g.WriteDocuments(ctx, threeDocs())
	require.ErrorIs(t, err, docstore.ErrUncommittedTransaction)
	assert.Contains(t, err.Error(), "WriteDocuments")

	open, err := g.Rollback()
	require.NoError(t, err)
	assert.False(t, open, "session was already aborted")

	n, err := g.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected write was never applied")
}

func TestRollbackGuard_ExplicitRollback(t *testing.T) {
	ctx := context.Background()
	g, _ := newGuardedSQLStore(t)

	open, err := g.Rollback()
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, g.Begin(ctx))
	open, err = g.Rollback()
	require.NoError(t, err)
	assert.True(t, open)
}

func TestRollbackGuard_RequiresTransactionalStore(t *testing.T) {
	_, err := docstore.NewRollbackGuard(docstore.NewMemoryStore("x", 3, docstore.Cosine), nil)
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)
}
