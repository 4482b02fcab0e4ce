package harness

import (
	"flag"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector(" elasticsearch, chromem,memory , chromem,qdrant ")
	require.NoError(t, err)
	assert.Equal(t, []docstore.Kind{"elasticsearch", "chromem", "memory", "qdrant"}, sel.Kinds())
	assert.Equal(t, "elasticsearch,chromem,memory,qdrant", sel.String())
	assert.True(t, sel.Contains(docstore.KindMemory))
	assert.False(t, sel.Contains(docstore.KindWeaviate))

	_, err = ParseSelector("memory, faiss")
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)

	_, err = ParseSelector(" , ")
	assert.ErrorIs(t, err, docstore.ErrUnsupportedConfig)
}

func TestSelector_KindsIsACopy(t *testing.T) {
	sel := MustParseSelector("memory,sql")
	kinds := sel.Kinds()
	kinds[0] = "bolt"
	assert.Equal(t, []docstore.Kind{"memory", "sql"}, sel.Kinds())
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"TestGeneratorPipeline", "generator", true},
		{"TestElasticsearchPipeline", "elasticsearch", true},
		{"TestTikaConverter", "tika", true},
		{"TestGraphDBQuery", "graphdb", true},
		{"TestSlowIndexing", "slow", true},
		{"TestWeaviateFilters", "weaviate", true},
		{"TestSummarizerOnElasticsearch", "summarizer", true},
		{"TestMemoryWrite", "", false},
	}
	for _, tt := range tests {
		got, ok := InferCategory(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestExpand_SelectorOrder(t *testing.T) {
	c := NewController(MustParseSelector("elasticsearch, chromem, memory, qdrant, weaviate"))
	insts := c.Expand(Decl{Name: "TestWriteDocuments", NeedsBackend: true})

	require.Len(t, insts, 5)
	for i, kind := range []docstore.Kind{"elasticsearch", "chromem", "memory", "qdrant", "weaviate"} {
		assert.Equal(t, kind, insts[i].Backend)
		assert.Equal(t, string(kind), insts[i].ID)
		assert.False(t, insts[i].Skipped(), string(kind))
	}
}

func TestExpand_MemoryOnly(t *testing.T) {
	c := NewController(MustParseSelector("memory"))

	insts := c.Expand(Decl{Name: "TestWriteDocuments", NeedsBackend: true})
	require.Len(t, insts, 1)
	assert.Equal(t, docstore.KindMemory, insts[0].Backend)
	assert.False(t, insts[0].Skipped())

	insts = c.Expand(Decl{Name: "TestIndexSettings", Tags: []string{"elasticsearch"}})
	require.Len(t, insts, 1)
	assert.True(t, insts[0].Skipped())
	assert.Equal(t, `elasticsearch is disabled. Enable via -backends="elasticsearch"`, insts[0].SkipReason)
}

func TestExpand_ExplicitBackends(t *testing.T) {
	c := NewController(MustParseSelector("memory"))
	insts := c.Expand(Decl{
		Name:         "TestSQLAndMemory",
		NeedsBackend: true,
		Backends:     []docstore.Kind{docstore.KindSQL, docstore.KindMemory},
	})

	require.Len(t, insts, 2)
	assert.Equal(t, docstore.KindSQL, insts[0].Backend)
	assert.True(t, insts[0].Skipped(), "explicit backends still respect the selector")
	assert.Contains(t, insts[0].SkipReason, "sql is disabled")
	assert.False(t, insts[1].Skipped())
}

func TestExpand_BackendsImplyNeedsBackend(t *testing.T) {
	c := NewController(MustParseSelector("memory, bolt"))
	insts := c.Expand(Decl{
		Name:     "TestBoltOnly",
		Backends: []docstore.Kind{docstore.KindBolt},
	})

	require.Len(t, insts, 1)
	assert.Equal(t, docstore.KindBolt, insts[0].Backend)
	assert.Equal(t, "bolt", insts[0].ID)
	assert.False(t, insts[0].Skipped())
}

func TestExpand_Params(t *testing.T) {
	c := NewController(MustParseSelector("memory"))

	insts := c.Expand(Decl{Name: "TestRetriever", Params: []string{"tfidf-memory", "dpr/elasticsearch"}})
	require.Len(t, insts, 2)
	assert.False(t, insts[0].Skipped())
	assert.True(t, insts[1].Skipped(), "param ids split on '/'")
	assert.Contains(t, insts[1].SkipReason, "elasticsearch")

	insts = c.Expand(Decl{Name: "TestEmbedding", NeedsBackend: true, Params: []string{"cosine", "dot_product"}})
	require.Len(t, insts, 2)
	assert.Equal(t, "memory-cosine", insts[0].ID)
	assert.Equal(t, "memory-dot_product", insts[1].ID)
}

func TestTags_ExplicitTagsAreAuthoritative(t *testing.T) {
	c := NewController(MustParseSelector("memory"))

	// The name mentions elasticsearch, but the explicit tag wins.
	insts := c.Expand(Decl{Name: "TestElasticsearchCompat", Tags: []string{"pipeline"}})
	require.Len(t, insts, 1)
	assert.Equal(t, []string{"pipeline"}, insts[0].Tags)
	assert.False(t, insts[0].Skipped())

	// Without tags the legacy inference applies.
	insts = c.Expand(Decl{Name: "TestElasticsearchCompat"})
	assert.Equal(t, []string{"elasticsearch"}, insts[0].Tags)
	assert.True(t, insts[0].Skipped())

	// Strict mode turns the inference off.
	strict := NewController(MustParseSelector("memory"), WithStrictTags(true))
	insts = strict.Expand(Decl{Name: "TestElasticsearchCompat"})
	assert.Empty(t, insts[0].Tags)
	assert.False(t, insts[0].Skipped())
}

func TestEvaluate_FirstKindInEnumerationOrder(t *testing.T) {
	c := NewController(MustParseSelector("memory"))
	reason := c.Evaluate(Instance{Tags: []string{"weaviate", "sql"}})
	assert.Equal(t, SkipReason(docstore.KindSQL), reason)
}

func TestEvaluate_NonBackendTagsDoNotSkip(t *testing.T) {
	c := NewController(MustParseSelector("memory"))
	assert.Empty(t, c.Evaluate(Instance{Tags: []string{"slow", "pipeline", "generator"}}))
}

func TestRun(t *testing.T) {
	c := NewController(MustParseSelector("memory, sql"))
	var ran []docstore.Kind

	before := testutil.ToFloat64(InstancesTotal.WithLabelValues("bolt", "skip"))

	t.Run("inner", func(t *testing.T) {
		c.Run(t, Decl{
			NeedsBackend: true,
			Backends:     []docstore.Kind{docstore.KindMemory, docstore.KindBolt, docstore.KindSQL},
		}, func(t *testing.T, inst Instance) {
			ran = append(ran, inst.Backend)
		})
	})

	assert.Equal(t, []docstore.Kind{docstore.KindMemory, docstore.KindSQL}, ran)
	assert.Equal(t, before+1, testutil.ToFloat64(InstancesTotal.WithLabelValues("bolt", "skip")))
}

func TestRun_BackendFreeTest(t *testing.T) {
	c := NewController(MustParseSelector("memory"))
	called := false
	c.Run(t, Decl{Tags: []string{"slow"}}, func(t *testing.T, inst Instance) {
		called = true
		assert.Empty(t, inst.Backend)
		assert.Equal(t, "TestRun_BackendFreeTest", inst.Name)
	})
	assert.True(t, called)
}

func TestFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-backends=memory,sql"}))

	sel, err := f.Selector(config.Default())
	require.NoError(t, err)
	assert.Equal(t, "memory,sql", sel.String())

	unset := RegisterFlags(flag.NewFlagSet("empty", flag.ContinueOnError))
	cfg := config.Default()
	cfg.Run.Backends = "redis"
	sel, err = unset.Selector(cfg)
	require.NoError(t, err)
	assert.Equal(t, "redis", sel.String())

	sel, err = unset.Selector(nil)
	require.NoError(t, err)
	assert.Equal(t, "elasticsearch,chromem,memory,qdrant,weaviate", sel.String())
}
