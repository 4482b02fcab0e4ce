package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqlSchema = `CREATE TABLE IF NOT EXISTS documents (
	idx       TEXT NOT NULL,
	id        TEXT NOT NULL,
	content   TEXT NOT NULL,
	meta      TEXT NOT NULL,
	embedding TEXT,
	PRIMARY KEY (idx, id)
)`

// SQLStore keeps documents in a relational table, keyed by (index, id).
//
// It carries an explicit session: after Begin, writes and reads go through
// the open transaction until Commit or Rollback. Without a session each
// write commits on its own.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	index    string
	dim      int
	sim      Similarity

	mu sync.Mutex
	tx *sql.Tx
}

// ParseSQLURL maps a connection URL to a database/sql driver name and DSN.
//
//	sqlite:///abs/path/test.db   -> sqlite, /abs/path/test.db
//	postgres://user@host/db      -> postgres, unchanged
func ParseSQLURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" || path == "/" {
			return "", "", fmt.Errorf("%w: sqlite url has no path: %q", ErrUnsupportedConfig, url)
		}
		return "sqlite", path + "?_pragma=busy_timeout(5000)", nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil
	}
	return "", "", fmt.Errorf("%w: unsupported sql url scheme: %q", ErrUnsupportedConfig, redactURL(url))
}

// IsPostgresURL reports whether url selects the postgres engine.
func IsPostgresURL(url string) bool {
	driver, _, err := ParseSQLURL(url)
	return err == nil && driver == "postgres"
}

func redactURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i] + "://..."
	}
	return "..."
}

// NewSQLStore connects, creates the documents table and clears any rows
// already stored under index.
func NewSQLStore(ctx context.Context, url, index string, dim int, sim Similarity) (*SQLStore, error) {
	driver, dsn, err := ParseSQLURL(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, postgres: driver == "postgres", index: index, dim: dim, sim: sim}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	if _, err := db.ExecContext(ctx, s.rebind("DELETE FROM documents WHERE idx = ?"), index); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clearing index %q: %w", index, err)
	}
	return s, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the open session transaction, or the pool.
func (s *SQLStore) conn() sqlConn {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Begin opens a session transaction.
func (s *SQLStore) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the session transaction.
func (s *SQLStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errors.New("no open transaction")
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Rollback aborts the session transaction, if any.
func (s *SQLStore) Rollback() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return false, nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return true, err
}

// InTransaction reports whether a session transaction is open.
func (s *SQLStore) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *SQLStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return s.upsert(ctx, s.tx, prepared)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := s.upsert(ctx, tx, prepared); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) upsert(ctx context.Context, c sqlConn, docs []Document) error {
	query := s.rebind(`INSERT INTO documents (idx, id, content, meta, embedding) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (idx, id) DO UPDATE SET content = excluded.content, meta = excluded.meta, embedding = excluded.embedding`)

	for _, d := range docs {
		meta, err := json.Marshal(d.Meta)
		if err != nil {
			return err
		}
		var emb sql.NullString
		if d.Embedding != nil {
			raw, err := json.Marshal(d.Embedding)
			if err != nil {
				return err
			}
			emb = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := c.ExecContext(ctx, query, s.index, d.ID, d.Content, string(meta), emb); err != nil {
			return fmt.Errorf("writing %q: %w", d.ID, err)
		}
	}
	return nil
}

func (s *SQLStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn().QueryContext(ctx,
		s.rebind("SELECT id, content, meta, embedding FROM documents WHERE idx = ? ORDER BY id"), s.index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d    Document
			meta string
			emb  sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Content, &meta, &emb); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &d.Meta); err != nil {
			return nil, fmt.Errorf("decoding meta of %q: %w", d.ID, err)
		}
		if emb.Valid {
			if err := json.Unmarshal([]byte(emb.String), &d.Embedding); err != nil {
				return nil, fmt.Errorf("decoding embedding of %q: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetDocumentCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.conn().QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM documents WHERE idx = ?"), s.index).Scan(&n)
	return n, err
}

func (s *SQLStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	all, err := s.GetAllDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return rank(s.sim, emb, all, topK), nil
}

func (s *SQLStore) DeleteDocuments(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn().ExecContext(ctx, s.rebind("DELETE FROM documents WHERE idx = ?"), s.index)
	return err
}

func (s *SQLStore) EmbeddingDim() int      { return s.dim }
func (s *SQLStore) Similarity() Similarity { return s.sim }
func (s *SQLStore) Kind() Kind             { return KindSQL }
func (s *SQLStore) Index() string          { return s.index }

// Close rolls back any open session and closes the pool.
func (s *SQLStore) Close() error {
	_, _ = s.Rollback()
	return s.db.Close()
}

var (
	_ Store         = (*SQLStore)(nil)
	_ Transactional = (*SQLStore)(nil)
)
