package fixture

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	_ "github.com/lib/pq"
)

// SQLURL returns the connection URL for sql handles: a sqlite file in the
// test's temp directory, or the configured postgres URL.
func (s *Session) SQLURL(t testing.TB) string {
	t.Helper()
	if s.cfg.SQL.Type == config.SQLTypePostgres {
		return s.cfg.SQL.PostgresURL.Value()
	}
	return "sqlite://" + filepath.Join(t.TempDir(), "storeharness_test.db")
}

// ResetPostgres drops and recreates the public schema now and again when
// the test ends. It does nothing in sqlite mode.
func (s *Session) ResetPostgres(t testing.TB) {
	t.Helper()
	if s.cfg.SQL.Type != config.SQLTypePostgres {
		return
	}
	s.RequireService(t, "postgres")

	if err := resetSchema(context.Background(), s.cfg.SQL.PostgresURL.Value()); err != nil {
		t.Fatalf("resetting postgres schema: %v", err)
	}
	t.Cleanup(func() {
		if err := resetSchema(context.Background(), s.cfg.SQL.PostgresURL.Value()); err != nil {
			t.Logf("resetting postgres schema: %v", err)
		}
	})
}

func resetSchema(ctx context.Context, url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range []string{
		"DROP SCHEMA IF EXISTS public CASCADE",
		"CREATE SCHEMA public",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
