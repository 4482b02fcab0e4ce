package docstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Ensurer makes sure a named external service is reachable.
type Ensurer interface {
	Ensure(ctx context.Context, service string) error
}

// Endpoints are the client addresses of the networked backends.
type Endpoints struct {
	// Elasticsearch is a base URL, e.g. http://localhost:9200.
	Elasticsearch string
	// Qdrant is a gRPC host:port.
	Qdrant string
	// Weaviate is an HTTP host:port.
	Weaviate string
	// Redis is a host:port.
	Redis string
}

// EndpointsFromConfig reads the endpoints from the services section.
func EndpointsFromConfig(cfg *config.Config) Endpoints {
	return Endpoints{
		Elasticsearch: cfg.Services.Elasticsearch.Endpoint,
		Qdrant:        cfg.Services.Qdrant.Endpoint,
		Weaviate:      cfg.Services.Weaviate.Endpoint,
		Redis:         cfg.Services.Redis.Endpoint,
	}
}

// Options describe one handle.
type Options struct {
	Kind         Kind
	Index        string
	EmbeddingDim int
	Similarity   Similarity

	// StoragePath roots file-backed state (chromem, bolt). Required for
	// those kinds.
	StoragePath string

	// SQLURL selects the sql engine: sqlite:///path or postgres://...
	SQLURL string
}

// Validate checks options independently of any backend.
func (o *Options) Validate() error {
	if _, err := ParseKind(string(o.Kind)); err != nil {
		return err
	}
	if o.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrUnsupportedConfig, o.EmbeddingDim)
	}
	sim, err := ParseSimilarity(string(o.Similarity))
	if err != nil {
		return err
	}
	o.Similarity = sim
	if err := ValidateIndexName(o.Index); err != nil {
		return err
	}
	switch o.Kind {
	case KindChromem, KindBolt:
		if o.StoragePath == "" {
			return fmt.Errorf("%w: %s requires a storage path", ErrUnsupportedConfig, o.Kind)
		}
	case KindSQL:
		if o.SQLURL == "" {
			return fmt.Errorf("%w: sql requires a connection url", ErrUnsupportedConfig)
		}
	}
	return nil
}

// ServiceFor names the external service a kind depends on. sql depends on
// postgres only when sqlURL is a postgres URL.
func ServiceFor(kind Kind, sqlURL string) (string, bool) {
	switch kind {
	case KindElasticsearch, KindQdrant, KindWeaviate, KindRedis:
		return string(kind), true
	case KindSQL:
		if IsPostgresURL(sqlURL) {
			return "postgres", true
		}
	}
	return "", false
}

// Factory builds store handles, bootstrapping services on demand.
type Factory struct {
	endpoints  Endpoints
	ensurer    Ensurer
	logger     *logging.Logger
	httpClient *http.Client
	qdrant     QdrantConfig
	tracer     trace.Tracer
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithHTTPClient sets the client used by REST backends.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = c }
}

// WithQdrantConfig overrides the qdrant retry and breaker settings. Addr is
// always taken from the endpoints.
func WithQdrantConfig(cfg QdrantConfig) FactoryOption {
	return func(f *Factory) { f.qdrant = cfg }
}

// WithTracerProvider sets the provider of store spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) FactoryOption {
	return func(f *Factory) { f.tracer = tp.Tracer(TracerName) }
}

// NewFactory creates a Factory. A nil ensurer assumes every service is
// already running.
func NewFactory(endpoints Endpoints, ensurer Ensurer, logger *logging.Logger, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Factory{
		endpoints:  endpoints,
		ensurer:    ensurer,
		logger:     logger.Named("docstore"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create ensures the backing service is up, then builds a handle with a
// fresh namespace for opts.Index. Every returned store is instrumented with
// spans and metrics.
func (f *Factory) Create(ctx context.Context, opts Options) (store Store, err error) {
	defer func() { RecordCreate(opts.Kind, err) }()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx = logging.WithBackend(ctx, string(opts.Kind))

	if svc, ok := ServiceFor(opts.Kind, opts.SQLURL); ok && f.ensurer != nil {
		if err := f.ensurer.Ensure(ctx, svc); err != nil {
			return nil, fmt.Errorf("ensuring %s for %s store: %w", svc, opts.Kind, err)
		}
	}

	began := time.Now()
	s, err := f.build(ctx, opts)
	if err != nil {
		f.logger.Error(ctx, "creating document store failed",
			zap.String("index", opts.Index),
			zap.Error(err))
		return nil, err
	}
	f.logger.Debug(ctx, "created document store",
		zap.String("index", opts.Index),
		zap.Int("embedding_dim", opts.EmbeddingDim),
		zap.String("similarity", string(opts.Similarity)),
		zap.Duration("elapsed", time.Since(began)))
	return instrument(s, f.tracer), nil
}

func (f *Factory) build(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case KindMemory:
		return NewMemoryStore(opts.Index, opts.EmbeddingDim, opts.Similarity), nil
	case KindSQL:
		return NewSQLStore(ctx, opts.SQLURL, opts.Index, opts.EmbeddingDim, opts.Similarity)
	case KindChromem:
		return NewChromemStore(opts.StoragePath, opts.Index, opts.EmbeddingDim, opts.Similarity)
	case KindBolt:
		return NewBoltStore(opts.StoragePath, opts.Index, opts.EmbeddingDim, opts.Similarity)
	case KindElasticsearch:
		return NewElasticsearchStore(ctx, f.endpoints.Elasticsearch, opts.Index, opts.EmbeddingDim, opts.Similarity, f.httpClient)
	case KindQdrant:
		cfg := f.qdrant
		cfg.Addr = f.endpoints.Qdrant
		return NewQdrantStore(ctx, cfg, opts.Index, opts.EmbeddingDim, opts.Similarity)
	case KindWeaviate:
		return NewWeaviateStore(ctx, f.endpoints.Weaviate, opts.Index, opts.EmbeddingDim, opts.Similarity)
	case KindRedis:
		return NewRedisStore(ctx, f.endpoints.Redis, opts.Index, opts.EmbeddingDim, opts.Similarity)
	}
	return nil, fmt.Errorf("%w: unknown backend kind %q", ErrUnsupportedConfig, opts.Kind)
}
