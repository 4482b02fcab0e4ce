package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload keys written on every qdrant point.
const (
	qdrantPayloadID          = "doc_id"
	qdrantPayloadContent     = "content"
	qdrantPayloadMeta        = "meta"
	qdrantPayloadNoEmbedding = "no_embedding"
)

// QdrantConfig holds connection settings for the qdrant backend.
type QdrantConfig struct {
	// Addr is the gRPC address, host:port (6334, not the 6333 REST port).
	Addr string

	// MaxRetries bounds retries of transient gRPC failures. Default 3.
	MaxRetries uint64

	// RetryBackoff is the first exponential backoff step. Default 500ms.
	RetryBackoff time.Duration

	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	BreakerThreshold uint32

	// MaxMessageSize caps gRPC messages in bytes. Default 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

// QdrantStore keeps documents as points of one qdrant collection. Point ids
// are UUIDs; the caller's id lives in the payload.
type QdrantStore struct {
	client  *qdrant.Client
	cfg     QdrantConfig
	breaker *gobreaker.CircuitBreaker
	index   string
	dim     int
	sim     Similarity
}

// NewQdrantStore connects, drops every collection whose name starts with
// index, and creates a fresh collection.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, index string, dim int, sim Similarity) (*QdrantStore, error) {
	cfg.ApplyDefaults()

	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant address %q: %v", ErrUnsupportedConfig, cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant port %q: %v", ErrUnsupportedConfig, portStr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", cfg.Addr, err)
	}

	s := &QdrantStore{
		client: client,
		cfg:    cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "qdrant:" + index,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerThreshold
			},
		}),
		index: index,
		dim:   dim,
		sim:   sim,
	}

	if err := s.dropPrefixed(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.createCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// call runs fn through the circuit breaker, retrying transient gRPC
// failures with exponential backoff.
func (s *QdrantStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if IsTransientError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("qdrant %s: circuit breaker open: %w", op, err)
		}
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	return nil
}

func (s *QdrantStore) distance() qdrant.Distance {
	if s.sim == DotProduct {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

func (s *QdrantStore) dropPrefixed(ctx context.Context) error {
	var names []string
	err := s.call(ctx, "list collections", func(ctx context.Context) error {
		var err error
		names, err = s.client.ListCollections(ctx)
		return err
	})
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasPrefix(name, s.index) {
			continue
		}
		name := name
		if err := s.call(ctx, "delete collection", func(ctx context.Context) error {
			return s.client.DeleteCollection(ctx, name)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) createCollection(ctx context.Context) error {
	return s.call(ctx, "create collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.index,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dim),
				Distance: s.distance(),
			}),
		})
	})
}

func (s *QdrantStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(prepared))
	for i, d := range prepared {
		metaJSON, err := encodeMeta(d.Meta)
		if err != nil {
			return err
		}
		vec := d.Embedding
		if vec == nil {
			vec = placeholderVector(s.dim)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(stableUUID(d.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				qdrantPayloadID:          d.ID,
				qdrantPayloadContent:     d.Content,
				qdrantPayloadMeta:        metaJSON,
				qdrantPayloadNoEmbedding: d.Embedding == nil,
			}),
		}
	}

	wait := true
	return s.call(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.index,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
}

func fromQdrantPayload(payload map[string]*qdrant.Value, vec []float32) (Document, error) {
	d := Document{
		ID:        payload[qdrantPayloadID].GetStringValue(),
		Content:   payload[qdrantPayloadContent].GetStringValue(),
		Embedding: vec,
	}
	meta, err := decodeMeta(payload[qdrantPayloadMeta].GetStringValue())
	if err != nil {
		return Document{}, fmt.Errorf("decoding meta of %q: %w", d.ID, err)
	}
	d.Meta = meta
	if payload[qdrantPayloadNoEmbedding].GetBoolValue() {
		d.Embedding = nil
	}
	return d, nil
}

func denseVector(v *qdrant.VectorsOutput) []float32 {
	if vec := v.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
		return vec.GetData()
	}
	return nil
}

func (s *QdrantStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	n, err := s.GetDocumentCount(ctx)
	if err != nil || n == 0 {
		return nil, err
	}

	var points []*qdrant.RetrievedPoint
	limit := uint32(n)
	err = s.call(ctx, "scroll", func(ctx context.Context) error {
		var err error
		points, err = s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.index,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(points))
	for _, p := range points {
		d, err := fromQdrantPayload(p.GetPayload(), denseVector(p.GetVectors()))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *QdrantStore) GetDocumentCount(ctx context.Context) (int, error) {
	var n uint64
	exact := true
	err := s.call(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.index,
			Exact:          &exact,
		})
		return err
	})
	return int(n), err
}

func (s *QdrantStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}

	var results []*qdrant.ScoredPoint
	err := s.call(ctx, "query", func(ctx context.Context) error {
		var err error
		results, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.index,
			Query:          qdrant.NewQuery(emb...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
			Filter: &qdrant.Filter{
				MustNot: []*qdrant.Condition{
					qdrant.NewMatchBool(qdrantPayloadNoEmbedding, true),
				},
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(results))
	for _, r := range results {
		d, err := fromQdrantPayload(r.GetPayload(), denseVector(r.GetVectors()))
		if err != nil {
			return nil, err
		}
		d.Score = float64(r.GetScore())
		out = append(out, d)
	}
	return out, nil
}

// DeleteDocuments drops and recreates the collection.
func (s *QdrantStore) DeleteDocuments(ctx context.Context) error {
	if err := s.call(ctx, "delete collection", func(ctx context.Context) error {
		return s.client.DeleteCollection(ctx, s.index)
	}); err != nil {
		return err
	}
	return s.createCollection(ctx)
}

func (s *QdrantStore) EmbeddingDim() int      { return s.dim }
func (s *QdrantStore) Similarity() Similarity { return s.sim }
func (s *QdrantStore) Kind() Kind             { return KindQdrant }
func (s *QdrantStore) Index() string          { return s.index }

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)
