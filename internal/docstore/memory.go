package docstore

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in a map. Iteration follows insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	index string
	dim   int
	sim   Similarity
	docs  map[string]Document
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(index string, dim int, sim Similarity) *MemoryStore {
	return &MemoryStore{
		index: index,
		dim:   dim,
		sim:   sim,
		docs:  make(map[string]Document),
	}
}

func (s *MemoryStore) WriteDocuments(_ context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range prepared {
		if _, exists := s.docs[d.ID]; !exists {
			s.order = append(s.order, d.ID)
		}
		s.docs[d.ID] = d
	}
	return nil
}

func (s *MemoryStore) GetAllDocuments(_ context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

func (s *MemoryStore) snapshot() []Document {
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.docs[id].Clone())
	}
	return out
}

func (s *MemoryStore) GetDocumentCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *MemoryStore) QueryByEmbedding(_ context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rank(s.sim, emb, s.snapshot(), topK), nil
}

func (s *MemoryStore) DeleteDocuments(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]Document)
	s.order = nil
	return nil
}

func (s *MemoryStore) EmbeddingDim() int      { return s.dim }
func (s *MemoryStore) Similarity() Similarity { return s.sim }
func (s *MemoryStore) Kind() Kind             { return KindMemory }
func (s *MemoryStore) Index() string          { return s.index }
func (s *MemoryStore) Close() error           { return nil }

var _ Store = (*MemoryStore)(nil)
