package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/fyrsmithlabs/storeharness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap/zapcore"
)

type recordingEnsurer struct {
	calls []string
	err   error
}

func (e *recordingEnsurer) Ensure(_ context.Context, service string) error {
	e.calls = append(e.calls, service)
	return e.err
}

func TestOptions_Validate(t *testing.T) {
	base := docstore.Options{Kind: docstore.KindMemory, Index: "valid_name", EmbeddingDim: 3}

	tests := []struct {
		name   string
		mutate func(*docstore.Options)
	}{
		{"unknown kind", func(o *docstore.Options) { o.Kind = "faiss" }},
		{"zero dimension", func(o *docstore.Options) { o.EmbeddingDim = 0 }},
		{"negative dimension", func(o *docstore.Options) { o.EmbeddingDim = -1 }},
		{"bad similarity", func(o *docstore.Options) { o.Similarity = "l2" }},
		{"bad index", func(o *docstore.Options) { o.Index = "Bad-Index" }},
		{"bolt without path", func(o *docstore.Options) { o.Kind = docstore.KindBolt }},
		{"chromem without path", func(o *docstore.Options) { o.Kind = docstore.KindChromem }},
		{"sql without url", func(o *docstore.Options) { o.Kind = docstore.KindSQL }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			assert.ErrorIs(t, o.Validate(), docstore.ErrUnsupportedConfig)
		})
	}

	o := base
	require.NoError(t, o.Validate())
	assert.Equal(t, docstore.Cosine, o.Similarity, "empty similarity defaults to cosine")
}

func TestFactory_UnknownKind(t *testing.T) {
	f := docstore.NewFactory(docstore.Endpoints{}, nil, nil)
	_, err := f.Create(context.Background(), docstore.Options{Kind: "faiss", Index: "x", EmbeddingDim: 3})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)
}

func TestFactory_ChromemRejectsDotProduct(t *testing.T) {
	f := docstore.NewFactory(docstore.Endpoints{}, nil, nil)
	_, err := f.Create(context.Background(), docstore.Options{
		Kind:         docstore.KindChromem,
		Index:        "x",
		EmbeddingDim: 3,
		Similarity:   docstore.DotProduct,
		StoragePath:  t.TempDir(),
	})
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)
}

func TestFactory_EnsuresNetworkedServices(t *testing.T) {
	launchErr := errors.New("launch failed")
	ensurer := &recordingEnsurer{err: launchErr}
	tl := logging.NewTestLogger()
	f := docstore.NewFactory(docstore.Endpoints{}, ensurer, tl.Logger)
	ctx := context.Background()

	for _, kind := range []docstore.Kind{docstore.KindElasticsearch, docstore.KindQdrant, docstore.KindWeaviate, docstore.KindRedis} {
		_, err := f.Create(ctx, docstore.Options{Kind: kind, Index: "x", EmbeddingDim: 3})
		assert.ErrorIs(t, err, launchErr, string(kind))
	}
	_, err := f.Create(ctx, docstore.Options{
		Kind: docstore.KindSQL, Index: "x", EmbeddingDim: 3,
		SQLURL: "postgres://postgres@127.0.0.1/postgres",
	})
	assert.ErrorIs(t, err, launchErr)

	assert.Equal(t, []string{"elasticsearch", "qdrant", "weaviate", "redis", "postgres"}, ensurer.calls)
}

func TestFactory_LocalKindsSkipEnsure(t *testing.T) {
	ensurer := &recordingEnsurer{}
	f := docstore.NewFactory(docstore.Endpoints{}, ensurer, nil)

	s, err := f.Create(context.Background(), docstore.Options{Kind: docstore.KindMemory, Index: "x", EmbeddingDim: 3})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, ensurer.calls)
}

func TestFactory_LogsAndCountsCreation(t *testing.T) {
	tl := logging.NewTestLogger()
	f := docstore.NewFactory(docstore.Endpoints{}, nil, tl.Logger)

	before := testutil.ToFloat64(docstore.StoresCreated.WithLabelValues("memory", "success"))
	s, err := f.Create(context.Background(), docstore.Options{Kind: docstore.KindMemory, Index: "x", EmbeddingDim: 3})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, before+1, testutil.ToFloat64(docstore.StoresCreated.WithLabelValues("memory", "success")))
	tl.AssertLogged(t, zapcore.DebugLevel, "created document store")
	tl.AssertField(t, "created document store", "backend", "memory")
}

func TestFactory_InstrumentsStores(t *testing.T) {
	f := docstore.NewFactory(docstore.Endpoints{}, nil, nil)
	s, err := f.Create(context.Background(), docstore.Options{Kind: docstore.KindMemory, Index: "x", EmbeddingDim: 3})
	require.NoError(t, err)
	defer s.Close()

	_, isMemory := s.(*docstore.MemoryStore)
	assert.False(t, isMemory, "factory stores are wrapped")
	_, isMemory = docstore.Unwrap(s).(*docstore.MemoryStore)
	assert.True(t, isMemory)

	before := testutil.ToFloat64(docstore.OperationErrors.WithLabelValues("memory", "QueryByEmbedding"))
	_, err = s.QueryByEmbedding(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(docstore.OperationErrors.WithLabelValues("memory", "QueryByEmbedding")))
}

func TestFactory_TracerProvider(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	f := docstore.NewFactory(docstore.Endpoints{}, nil, nil, docstore.WithTracerProvider(tel.TracerProvider()))

	s, err := f.Create(context.Background(), docstore.Options{Kind: docstore.KindMemory, Index: "traced", EmbeddingDim: 3})
	require.NoError(t, err)

	_, err = s.GetDocumentCount(context.Background())
	require.NoError(t, err)
	_, err = s.QueryByEmbedding(context.Background(), []float32{1, 0, 0}, 0)
	require.ErrorIs(t, err, docstore.ErrInvalidQuery)

	tel.AssertSpanAttribute(t, "docstore.GetDocumentCount", "docstore.index", "traced")
	span := tel.SpanByName("docstore.QueryByEmbedding")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestServiceFor(t *testing.T) {
	tests := []struct {
		kind    docstore.Kind
		sqlURL  string
		service string
		ok      bool
	}{
		{docstore.KindMemory, "", "", false},
		{docstore.KindChromem, "", "", false},
		{docstore.KindBolt, "", "", false},
		{docstore.KindSQL, "sqlite:///tmp/a.db", "", false},
		{docstore.KindSQL, "postgres://u@h/db", "postgres", true},
		{docstore.KindElasticsearch, "", "elasticsearch", true},
		{docstore.KindQdrant, "", "qdrant", true},
		{docstore.KindWeaviate, "", "weaviate", true},
		{docstore.KindRedis, "", "redis", true},
	}
	for _, tt := range tests {
		svc, ok := docstore.ServiceFor(tt.kind, tt.sqlURL)
		assert.Equal(t, tt.ok, ok, string(tt.kind))
		assert.Equal(t, tt.service, svc, string(tt.kind))
	}
}

func TestEndpointsFromConfig(t *testing.T) {
	e := docstore.EndpointsFromConfig(config.Default())
	assert.Equal(t, "http://localhost:9200", e.Elasticsearch)
	assert.Equal(t, "localhost:6334", e.Qdrant)
	assert.Equal(t, "localhost:8080", e.Weaviate)
	assert.Equal(t, "localhost:6379", e.Redis)
}
