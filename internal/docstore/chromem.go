package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
)

// metaNoEmbedding marks records that were written without an embedding on
// backends that require one per record. It is stripped on read.
const metaNoEmbedding = "__storeharness_no_embedding"

// ChromemStore keeps documents in one chromem-go collection under a
// persistent DB rooted in the test's storage directory. chromem scores by
// cosine over normalized vectors, so it supports Cosine only and returns
// stored embeddings normalized.
type ChromemStore struct {
	db    *chromem.DB
	index string
	dim   int

	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromemStore opens a persistent chromem DB under dir and creates a
// fresh collection named index.
func NewChromemStore(dir, index string, dim int, sim Similarity) (*ChromemStore, error) {
	if sim != Cosine {
		return nil, fmt.Errorf("%w: chromem supports cosine similarity only, got %s", ErrUnsupportedConfig, sim)
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: chromem requires a storage path", ErrUnsupportedConfig)
	}

	path := filepath.Join(dir, "chromem")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	s := &ChromemStore{db: db, index: index, dim: dim}
	if err := s.resetCollection(); err != nil {
		return nil, err
	}
	return s, nil
}

// Embeddings are always supplied by the caller; text queries are not part
// of the contract.
func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func (s *ChromemStore) resetCollection() error {
	if err := s.db.DeleteCollection(s.index); err != nil {
		return fmt.Errorf("deleting collection %s: %w", s.index, err)
	}
	c, err := s.db.CreateCollection(s.index, map[string]string{"dim": fmt.Sprint(s.dim)}, noEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.index, err)
	}
	s.collection = c
	return nil
}

func (s *ChromemStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	chromemDocs := make([]chromem.Document, len(prepared))
	for i, d := range prepared {
		meta := d.Meta
		emb := d.Embedding
		if emb == nil {
			if meta == nil {
				meta = map[string]string{}
			}
			meta[metaNoEmbedding] = "true"
			emb = placeholderVector(s.dim)
		}
		chromemDocs[i] = chromem.Document{
			ID:        d.ID,
			Metadata:  meta,
			Embedding: emb,
			Content:   d.Content,
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents to %s: %w", s.index, err)
	}
	return nil
}

// query runs a nearest-neighbour query capped at the collection size;
// chromem rejects nResults above its document count.
func (s *ChromemStore) query(ctx context.Context, emb []float32, k int) ([]chromem.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	results, err := s.collection.QueryEmbedding(ctx, emb, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.index, err)
	}
	return results, nil
}

func fromChromemResult(r chromem.Result) Document {
	d := Document{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: r.Embedding,
		Score:     float64(r.Similarity),
	}
	if len(r.Metadata) > 0 {
		d.Meta = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k == metaNoEmbedding {
				d.Embedding = nil
				continue
			}
			d.Meta[k] = v
		}
		if len(d.Meta) == 0 {
			d.Meta = nil
		}
	}
	return d
}

func (s *ChromemStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	results, err := s.query(ctx, placeholderVector(s.dim), s.count())
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(results))
	for i, r := range results {
		out[i] = fromChromemResult(r)
		out[i].Score = 0
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ChromemStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

func (s *ChromemStore) GetDocumentCount(_ context.Context) (int, error) {
	return s.count(), nil
}

func (s *ChromemStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	// Placeholder records take part in chromem's ranking, so ask for every
	// record and cut after dropping them.
	results, err := s.query(ctx, emb, s.count())
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, topK)
	for _, r := range results {
		d := fromChromemResult(r)
		if d.Embedding == nil {
			continue
		}
		out = append(out, d)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (s *ChromemStore) DeleteDocuments(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCollection()
}

func (s *ChromemStore) EmbeddingDim() int      { return s.dim }
func (s *ChromemStore) Similarity() Similarity { return Cosine }
func (s *ChromemStore) Kind() Kind             { return KindChromem }
func (s *ChromemStore) Index() string          { return s.index }
func (s *ChromemStore) Close() error           { return nil }

var _ Store = (*ChromemStore)(nil)
