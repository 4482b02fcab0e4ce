// Package docstore defines the document-store contract exercised by the
// harness and one implementation per backend kind.
//
// A Store is a live backend instance bound to one index name, one embedding
// dimensionality and one similarity metric. Handles are created through
// Factory.Create and are owned by a single test.
//
// Backends:
//   - memory: in-process map
//   - sql: database/sql over sqlite (modernc.org/sqlite) or postgres (lib/pq)
//   - chromem: embedded chromem-go persistent DB
//   - bolt: bbolt file with one bucket per index
//   - elasticsearch: REST over net/http
//   - qdrant: native gRPC client
//   - weaviate: weaviate-go-client v4
//   - redis: go-redis hashes under an index key prefix
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Kind is a backend kind name.
type Kind string

const (
	KindMemory        Kind = "memory"
	KindSQL           Kind = "sql"
	KindChromem       Kind = "chromem"
	KindBolt          Kind = "bolt"
	KindElasticsearch Kind = "elasticsearch"
	KindQdrant        Kind = "qdrant"
	KindWeaviate      Kind = "weaviate"
	KindRedis         Kind = "redis"
)

// Kinds returns every supported backend kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindMemory, KindSQL, KindChromem, KindBolt,
		KindElasticsearch, KindQdrant, KindWeaviate, KindRedis,
	}
}

// ParseKind validates a backend kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown backend kind %q", ErrUnsupportedConfig, s)
}

// Networked reports whether the kind talks to an external service.
// sql is networked only in postgres mode; see ServiceFor.
func (k Kind) Networked() bool {
	switch k {
	case KindElasticsearch, KindQdrant, KindWeaviate, KindRedis:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Similarity is the vector similarity metric of a handle.
type Similarity string

const (
	Cosine     Similarity = "cosine"
	DotProduct Similarity = "dot_product"
)

// ParseSimilarity validates a similarity name. Empty means cosine.
func ParseSimilarity(s string) (Similarity, error) {
	switch Similarity(s) {
	case "", Cosine:
		return Cosine, nil
	case DotProduct:
		return DotProduct, nil
	}
	return "", fmt.Errorf("%w: unknown similarity %q", ErrUnsupportedConfig, s)
}

// Document is one stored record.
type Document struct {
	ID        string
	Content   string
	Meta      map[string]string
	Embedding []float32

	// Score is set on query results only.
	Score float64
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	if d.Meta != nil {
		out.Meta = make(map[string]string, len(d.Meta))
		for k, v := range d.Meta {
			out.Meta[k] = v
		}
	}
	if d.Embedding != nil {
		out.Embedding = append([]float32(nil), d.Embedding...)
	}
	return out
}

// Store is the document-store contract.
//
// DeleteDocuments removes every document of the handle's index. Embeddings
// written or queried must have exactly EmbeddingDim components; anything
// else fails with ErrDimensionMismatch before touching the backend.
type Store interface {
	WriteDocuments(ctx context.Context, docs []Document) error
	GetAllDocuments(ctx context.Context) ([]Document, error)
	GetDocumentCount(ctx context.Context) (int, error)
	QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error)
	DeleteDocuments(ctx context.Context) error

	EmbeddingDim() int
	Similarity() Similarity
	Kind() Kind
	Index() string
	Close() error
}

// Transactional is implemented by stores with an explicit session.
type Transactional interface {
	Begin(ctx context.Context) error
	Commit() error
	// Rollback aborts the open transaction and reports whether one was open.
	Rollback() (bool, error)
}

// Unwrapper is implemented by stores that decorate another store.
type Unwrapper interface {
	Unwrap() Store
}

// Unwrap peels decorators until it reaches a backend store.
func Unwrap(s Store) Store {
	for {
		u, ok := s.(Unwrapper)
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// indexNamePattern is the namespace every backend can represent: it is a
// valid elasticsearch index, qdrant collection, redis key prefix and SQL
// value, and maps to a weaviate class by capitalizing.
var indexNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateIndexName rejects names some backend could not represent.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match %s, got %q", ErrUnsupportedConfig, indexNamePattern, name)
	}
	return nil
}

// idNamespace seeds the UUIDv5 ids used by backends that only accept UUIDs.
var idNamespace = uuid.MustParse("6f1c2d2e-8a0b-4a53-9d3c-4f7e2b9a1c05")

// stableUUID returns id if it already is a UUID, else a deterministic
// UUIDv5 derived from it.
func stableUUID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String()
}

// encodeMeta serializes meta for backends that store it as one string.
func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding meta: %w", err)
	}
	return string(raw), nil
}

func decodeMeta(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
