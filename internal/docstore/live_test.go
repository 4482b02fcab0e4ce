package docstore_test

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireReachable skips unless addr accepts TCP connections.
func requireReachable(t *testing.T, addr string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping live backend test in short mode")
	}
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("%s not reachable: %v", addr, err)
	}
	_ = conn.Close()
}

// TestStore_Live runs the core contract against running services at their
// default endpoints.
func TestStore_Live(t *testing.T) {
	cfg := config.Default()
	endpoints := docstore.EndpointsFromConfig(cfg)
	esURL, err := url.Parse(endpoints.Elasticsearch)
	require.NoError(t, err)

	cases := []struct {
		kind   docstore.Kind
		addr   string
		sqlURL string
	}{
		{kind: docstore.KindElasticsearch, addr: esURL.Host},
		{kind: docstore.KindQdrant, addr: endpoints.Qdrant},
		{kind: docstore.KindWeaviate, addr: endpoints.Weaviate},
		{kind: docstore.KindRedis, addr: endpoints.Redis},
		{kind: docstore.KindSQL, addr: cfg.Services.Postgres.Endpoint, sqlURL: cfg.SQL.PostgresURL.Value()},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.kind), func(t *testing.T) {
			requireReachable(t, tc.addr)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			f := docstore.NewFactory(endpoints, nil, nil)
			s, err := f.Create(ctx, docstore.Options{
				Kind:         tc.kind,
				Index:        "t_live_contract",
				EmbeddingDim: 3,
				SQLURL:       tc.sqlURL,
			})
			require.NoError(t, err)
			defer s.Close()

			docs, err := s.GetAllDocuments(ctx)
			require.NoError(t, err)
			assert.Empty(t, docs)

			require.NoError(t, s.WriteDocuments(ctx, append(threeDocs(), docstore.Document{ID: "plain", Content: "no vector"})))
			n, err := s.GetDocumentCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			docs, err = s.GetAllDocuments(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b", "c", "plain"}, ids(docs))

			res, err := s.QueryByEmbedding(ctx, []float32{1, 0, 0}, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, ids(res))

			err = s.WriteDocuments(ctx, []docstore.Document{{ID: "bad", Embedding: []float32{1}}})
			assert.ErrorIs(t, err, docstore.ErrDimensionMismatch)

			require.NoError(t, s.DeleteDocuments(ctx))
			n, err = s.GetDocumentCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
