package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore persists documents in one bbolt bucket named after the index.
// Search is brute force over the bucket. Documents iterate in ID order.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
	index  string
	dim    int
	sim    Similarity
}

type boltRecord struct {
	Content   string            `json:"c"`
	Meta      map[string]string `json:"m,omitempty"`
	Embedding []float32         `json:"e,omitempty"`
}

// NewBoltStore opens (creating if needed) {dir}/{index}.bolt.
func NewBoltStore(dir, index string, dim int, sim Similarity) (*BoltStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: bolt requires a storage path", ErrUnsupportedConfig)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, index+".bolt"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &BoltStore{db: db, bucket: []byte(index), index: index, dim: dim, sim: sim}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %q: %w", index, err)
	}
	return s, nil
}

func (s *BoltStore) WriteDocuments(_ context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, d := range prepared {
			data, err := json.Marshal(boltRecord{Content: d.Content, Meta: d.Meta, Embedding: d.Embedding})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(d.ID), data); err != nil {
				return fmt.Errorf("put %q: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) GetAllDocuments(_ context.Context) ([]Document, error) {
	var out []Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding %q: %w", k, err)
			}
			out = append(out, Document{
				ID:        string(k),
				Content:   rec.Content,
				Meta:      rec.Meta,
				Embedding: rec.Embedding,
			})
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetDocumentCount(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	all, err := s.GetAllDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return rank(s.sim, emb, all, topK), nil
}

func (s *BoltStore) DeleteDocuments(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

func (s *BoltStore) EmbeddingDim() int      { return s.dim }
func (s *BoltStore) Similarity() Similarity { return s.sim }
func (s *BoltStore) Kind() Kind             { return KindBolt }
func (s *BoltStore) Index() string          { return s.index }
func (s *BoltStore) Close() error           { return s.db.Close() }

var _ Store = (*BoltStore)(nil)
