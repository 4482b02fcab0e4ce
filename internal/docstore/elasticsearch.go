package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// esScoreOffset keeps script scores non-negative as elasticsearch requires;
// it is subtracted again before results are returned.
const esScoreOffset = 1000.0

// esPageSize is the page size GetAllDocuments reads with; it stays below the
// default index.max_result_window.
const esPageSize = 1000

// ElasticsearchStore keeps documents in one elasticsearch index with a
// dense_vector field for embeddings, over the REST API.
type ElasticsearchStore struct {
	baseURL    string
	httpClient *http.Client
	index      string
	dim        int
	sim        Similarity
}

// NewElasticsearchStore deletes every index matching {index}* and creates
// index with a dense_vector mapping of dim dimensions. A nil httpClient uses
// a client with a 30s timeout.
func NewElasticsearchStore(ctx context.Context, baseURL, index string, dim int, sim Similarity, httpClient *http.Client) (*ElasticsearchStore, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	s := &ElasticsearchStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		index:      index,
		dim:        dim,
		sim:        sim,
	}

	if _, err := s.do(ctx, http.MethodDelete, "/"+index+"*", nil, http.StatusNotFound); err != nil {
		return nil, fmt.Errorf("deleting stale indices %s*: %w", index, err)
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"doc_id":    map[string]any{"type": "keyword"},
				"content":   map[string]any{"type": "text"},
				"meta":      map[string]any{"type": "object", "enabled": false},
				"embedding": map[string]any{"type": "dense_vector", "dims": dim},
			},
		},
	}
	if _, err := s.do(ctx, http.MethodPut, "/"+index, mapping); err != nil {
		return nil, fmt.Errorf("creating index %s: %w", index, err)
	}
	return s, nil
}

type esSource struct {
	DocID     string            `json:"doc_id"`
	Content   string            `json:"content"`
	Meta      map[string]string `json:"meta,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64  `json:"_score"`
			Source esSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// do sends a JSON (or pre-encoded NDJSON) request and returns the body.
// Statuses listed in tolerate are treated as success.
func (s *ElasticsearchStore) do(ctx context.Context, method, path string, body any, tolerate ...int) ([]byte, error) {
	var (
		reader      io.Reader
		contentType = "application/json"
	)
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/x-ndjson"
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		for _, code := range tolerate {
			if resp.StatusCode == code {
				return data, nil
			}
		}
		return nil, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

func (s *ElasticsearchStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	var bulk bytes.Buffer
	enc := json.NewEncoder(&bulk)
	for _, d := range prepared {
		action := map[string]any{"index": map[string]any{"_index": s.index, "_id": d.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(esSource{DocID: d.ID, Content: d.Content, Meta: d.Meta, Embedding: d.Embedding}); err != nil {
			return err
		}
	}

	data, err := s.do(ctx, http.MethodPost, "/_bulk?refresh=true", bulk.Bytes())
	if err != nil {
		return fmt.Errorf("bulk write: %w", err)
	}
	var resp struct {
		Errors bool `json:"errors"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if resp.Errors {
		return fmt.Errorf("bulk write reported item errors: %s", string(data))
	}
	return nil
}

func (s *ElasticsearchStore) search(ctx context.Context, query map[string]any) (*esSearchResponse, error) {
	data, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_search", query)
	if err != nil {
		return nil, err
	}
	var resp esSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &resp, nil
}

// GetAllDocuments pages through the index in doc_id order with search_after.
func (s *ElasticsearchStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	var (
		out   []Document
		after []any
	)
	for {
		query := map[string]any{
			"size":  esPageSize,
			"query": map[string]any{"match_all": map[string]any{}},
			"sort":  []any{map[string]any{"doc_id": "asc"}},
		}
		if after != nil {
			query["search_after"] = after
		}
		resp, err := s.search(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, h := range resp.Hits.Hits {
			out = append(out, Document{
				ID:        h.Source.DocID,
				Content:   h.Source.Content,
				Meta:      h.Source.Meta,
				Embedding: h.Source.Embedding,
			})
		}
		hits := resp.Hits.Hits
		if len(hits) < esPageSize {
			break
		}
		after = hits[len(hits)-1].Sort
		if len(after) == 0 {
			return nil, fmt.Errorf("search page of %s has no sort values", s.index)
		}
	}
	if out == nil {
		out = []Document{}
	}
	return out, nil
}

func (s *ElasticsearchStore) GetDocumentCount(ctx context.Context) (int, error) {
	data, err := s.do(ctx, http.MethodGet, "/"+s.index+"/_count", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return resp.Count, nil
}

func (s *ElasticsearchStore) scoreScript() string {
	if s.sim == DotProduct {
		return fmt.Sprintf("dotProduct(params.query_vector, 'embedding') + %g", esScoreOffset)
	}
	return fmt.Sprintf("cosineSimilarity(params.query_vector, 'embedding') + %g", esScoreOffset)
}

func (s *ElasticsearchStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}
	resp, err := s.search(ctx, map[string]any{
		"size": topK,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{
					"bool": map[string]any{
						"filter": map[string]any{"exists": map[string]any{"field": "embedding"}},
					},
				},
				"script": map[string]any{
					"source": s.scoreScript(),
					"params": map[string]any{"query_vector": emb},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		out = append(out, Document{
			ID:        h.Source.DocID,
			Content:   h.Source.Content,
			Meta:      h.Source.Meta,
			Embedding: h.Source.Embedding,
			Score:     h.Score - esScoreOffset,
		})
	}
	return out, nil
}

func (s *ElasticsearchStore) DeleteDocuments(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodPost, "/"+s.index+"/_delete_by_query?refresh=true&conflicts=proceed",
		map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	return err
}

func (s *ElasticsearchStore) EmbeddingDim() int      { return s.dim }
func (s *ElasticsearchStore) Similarity() Similarity { return s.sim }
func (s *ElasticsearchStore) Kind() Kind             { return KindElasticsearch }
func (s *ElasticsearchStore) Index() string          { return s.index }

func (s *ElasticsearchStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

var _ Store = (*ElasticsearchStore)(nil)
