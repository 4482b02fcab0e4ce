package fixture

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
)

// SampleDocs returns three small documents without embeddings. Each call
// returns fresh values.
func SampleDocs() []docstore.Document {
	return []docstore.Document{
		{
			Content: "My name is Carla and I live in Berlin",
			Meta:    map[string]string{"meta_field": "test1", "name": "filename1"},
		},
		{
			Content: "My name is Paul and I live in New York",
			Meta:    map[string]string{"meta_field": "test2", "name": "filename2"},
		},
		{
			Content: "My name is Christelle and I live in Paris",
			Meta:    map[string]string{"meta_field": "test3", "name": "filename3"},
		},
	}
}

// DocsWithEmbeddings returns two related documents carrying dim-sized
// embeddings. The vectors are unit length and derived from the content, so
// they are identical across runs.
func DocsWithEmbeddings(dim int) []docstore.Document {
	contents := []string{
		"The capital of Germany is the city state of Berlin.",
		"Berlin is the capital and largest city of Germany by both area and population.",
	}
	docs := make([]docstore.Document, len(contents))
	for i, c := range contents {
		docs[i] = docstore.Document{Content: c, Embedding: Embedding(c, dim)}
	}
	return docs
}

// Embedding derives a unit-length vector of size dim from text.
func Embedding(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	scale := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * scale)
	}
	return v
}
