package docstore

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Score computes the similarity of two equal-length vectors. Cosine of a
// zero vector is 0.
func Score(sim Similarity, a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if sim == DotProduct {
		return dot
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank scores candidates against query and returns the topK best, highest
// first. Candidates without an embedding are skipped. Ties keep input order.
func rank(sim Similarity, query []float32, candidates []Document, topK int) []Document {
	scored := make([]Document, 0, len(candidates))
	for _, d := range candidates {
		if len(d.Embedding) == 0 {
			continue
		}
		d.Score = Score(sim, query, d.Embedding)
		scored = append(scored, d)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored
}

// prepareDocuments validates a batch against dim and returns deep copies
// with empty IDs filled in. The whole batch is rejected on the first bad
// embedding so backends never see a partial write.
func prepareDocuments(docs []Document, dim int) ([]Document, error) {
	out := make([]Document, len(docs))
	for i, d := range docs {
		if d.Embedding != nil && len(d.Embedding) != dim {
			return nil, fmt.Errorf("%w: document %q has %d components, handle expects %d",
				ErrDimensionMismatch, d.ID, len(d.Embedding), dim)
		}
		c := d.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Score = 0
		out[i] = c
	}
	return out, nil
}

// checkQuery validates a query embedding and topK.
func checkQuery(emb []float32, topK, dim int) error {
	if len(emb) != dim {
		return fmt.Errorf("%w: query has %d components, handle expects %d", ErrDimensionMismatch, len(emb), dim)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidQuery, topK)
	}
	return nil
}

// placeholderVector stands in for a missing embedding on backends that
// require one per record. It is a unit vector so cosine stays defined.
func placeholderVector(dim int) []float32 {
	v := make([]float32, dim)
	if dim > 0 {
		v[0] = 1
	}
	return v
}
