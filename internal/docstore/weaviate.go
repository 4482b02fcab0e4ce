package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviatePageSize is the cursor page size of GetAllDocuments; it stays
// below the default QUERY_MAXIMUM_RESULTS.
const weaviatePageSize = 1000

// WeaviateStore keeps documents as objects of one weaviate class named
// after the index with its first letter upper-cased. Weaviate accepts only
// UUID object ids, so other ids map to a UUIDv5 and the original is kept in
// the doc_id property.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
	index  string
	dim    int
	sim    Similarity
}

// WeaviateClassName maps an index name to its weaviate class.
func WeaviateClassName(index string) string {
	if index == "" {
		return ""
	}
	return strings.ToUpper(index[:1]) + index[1:]
}

// NewWeaviateStore connects to host (host:port, http), deletes the whole
// schema and creates the index class without a vectorizer.
func NewWeaviateStore(ctx context.Context, host, index string, dim int, sim Similarity) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: "http"})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client for %s: %w", host, err)
	}

	s := &WeaviateStore{
		client: client,
		class:  WeaviateClassName(index),
		index:  index,
		dim:    dim,
		sim:    sim,
	}
	if err := client.Schema().AllDeleter().Do(ctx); err != nil {
		return nil, fmt.Errorf("deleting weaviate schema: %w", err)
	}
	if err := s.createClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WeaviateStore) createClass(ctx context.Context) error {
	distance := "cosine"
	if s.sim == DotProduct {
		distance = "dot"
	}
	class := &models.Class{
		Class:      s.class,
		Vectorizer: "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": distance,
		},
		Properties: []*models.Property{
			{Name: "doc_id", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "meta_json", DataType: []string{"text"}},
			{Name: "no_embedding", DataType: []string{"boolean"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating weaviate class %s: %w", s.class, err)
	}
	return nil
}

func (s *WeaviateStore) WriteDocuments(ctx context.Context, docs []Document) error {
	prepared, err := prepareDocuments(docs, s.dim)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(prepared))
	for i, d := range prepared {
		metaJSON, err := encodeMeta(d.Meta)
		if err != nil {
			return err
		}
		vec := d.Embedding
		if vec == nil {
			vec = placeholderVector(s.dim)
		}
		objects[i] = &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(stableUUID(d.ID)),
			Properties: map[string]interface{}{
				"doc_id":       d.ID,
				"content":      d.Content,
				"meta_json":    metaJSON,
				"no_embedding": d.Embedding == nil,
			},
			Vector: vec,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch write: %w", err)
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		if errs := r.Result.Errors.Error; len(errs) > 0 {
			return fmt.Errorf("weaviate batch write %s: %s", r.ID, errs[0].Message)
		}
	}
	return nil
}

func fromWeaviateProps(props map[string]interface{}, vec []float32) (Document, error) {
	d := Document{Embedding: vec}
	d.ID, _ = props["doc_id"].(string)
	d.Content, _ = props["content"].(string)
	metaJSON, _ := props["meta_json"].(string)
	meta, err := decodeMeta(metaJSON)
	if err != nil {
		return Document{}, fmt.Errorf("decoding meta of %q: %w", d.ID, err)
	}
	d.Meta = meta
	if noEmb, _ := props["no_embedding"].(bool); noEmb {
		d.Embedding = nil
	}
	return d, nil
}

// GetAllDocuments walks the class with the object cursor API.
func (s *WeaviateStore) GetAllDocuments(ctx context.Context) ([]Document, error) {
	objects, err := walkWeaviateObjects(ctx, weaviatePageSize, func(ctx context.Context, after string) ([]*models.Object, error) {
		getter := s.client.Data().ObjectsGetter().
			WithClassName(s.class).
			WithVector().
			WithLimit(weaviatePageSize)
		if after != "" {
			getter = getter.WithAfter(after)
		}
		return getter.Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("listing weaviate objects: %w", err)
	}

	out := make([]Document, 0, len(objects))
	for _, o := range objects {
		props, _ := o.Properties.(map[string]interface{})
		d, err := fromWeaviateProps(props, []float32(o.Vector))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// walkWeaviateObjects calls fetch with the id of the last object seen until
// a page comes back short.
func walkWeaviateObjects(ctx context.Context, pageSize int, fetch func(ctx context.Context, after string) ([]*models.Object, error)) ([]*models.Object, error) {
	var (
		all   []*models.Object
		after string
	)
	for {
		page, err := fetch(ctx, after)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		after = page[len(page)-1].ID.String()
	}
}

func (s *WeaviateStore) GetDocumentCount(ctx context.Context) (int, error) {
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate aggregate: %w", err)
	}
	if err := graphQLError(resp); err != nil {
		return 0, err
	}

	agg, _ := resp.Data["Aggregate"].(map[string]interface{})
	rows, _ := agg[s.class].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func graphQLError(resp *models.GraphQLResponse) error {
	if resp == nil || len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("weaviate graphql: %s", strings.Join(msgs, "; "))
}

// weaviateScore converts a weaviate distance to a similarity score.
// cosine distance is 1-cos; dot distance is the negated dot product.
func (s *WeaviateStore) weaviateScore(distance float64) float64 {
	if s.sim == DotProduct {
		return -distance
	}
	return 1 - distance
}

func (s *WeaviateStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) ([]Document, error) {
	if err := checkQuery(emb, topK, s.dim); err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(emb)
	where := filters.Where().
		WithPath([]string{"no_embedding"}).
		WithOperator(filters.Equal).
		WithValueBoolean(false)

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(
			graphql.Field{Name: "doc_id"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "meta_json"},
			graphql.Field{Name: "no_embedding"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{
				{Name: "distance"},
				{Name: "vector"},
			}},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate near-vector query: %w", err)
	}
	if err := graphQLError(resp); err != nil {
		return nil, err
	}

	get, _ := resp.Data["Get"].(map[string]interface{})
	items, _ := get[s.class].([]interface{})
	out := make([]Document, 0, len(items))
	for _, item := range items {
		props, _ := item.(map[string]interface{})
		additional, _ := props["_additional"].(map[string]interface{})
		d, err := fromWeaviateProps(props, toFloat32s(additional["vector"]))
		if err != nil {
			return nil, err
		}
		distance, _ := additional["distance"].(float64)
		d.Score = s.weaviateScore(distance)
		out = append(out, d)
	}
	return out, nil
}

func toFloat32s(v interface{}) []float32 {
	raw, _ := v.([]interface{})
	if raw == nil {
		return nil
	}
	out := make([]float32, len(raw))
	for i, x := range raw {
		f, _ := x.(float64)
		out[i] = float32(f)
	}
	return out
}

// DeleteDocuments drops and recreates the class.
func (s *WeaviateStore) DeleteDocuments(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(s.class).Do(ctx); err != nil {
		return fmt.Errorf("deleting weaviate class %s: %w", s.class, err)
	}
	return s.createClass(ctx)
}

func (s *WeaviateStore) EmbeddingDim() int      { return s.dim }
func (s *WeaviateStore) Similarity() Similarity { return s.sim }
func (s *WeaviateStore) Kind() Kind             { return KindWeaviate }
func (s *WeaviateStore) Index() string          { return s.index }
func (s *WeaviateStore) Close() error           { return nil }

var _ Store = (*WeaviateStore)(nil)
