// Package vector provides vector index and similarity search.
package vector

import "context"

// MetricInnerProduct is the similarity metric tag written into persisted
// indices. All stored vectors are L2-normalized, so inner product equals
// cosine similarity.
const MetricInnerProduct = "ip"

// Index defines vector storage and similarity search over embeddings of one
// fixed dimension. Indices are bulk-loaded at build time and immutable during
// query serving.
type Index interface {
	// Add bulk-loads vectors. Every vector must match the index dimension.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits sorted by descending similarity, ties broken
	// by ascending ID. Identical queries against an unchanged index return
	// identical ordered output.
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	// SearchAboveThreshold returns every hit with similarity >= minSimilarity.
	// Unlike Search it never truncates, so candidate generation for identity
	// queries cannot silently cap recall for people appearing in many photos.
	SearchAboveThreshold(ctx context.Context, query []float32, minSimilarity float64) ([]*Result, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// Result is a single vector search hit (ID is the face or image record ID).
type Result struct {
	ID         string
	Similarity float64 // Inner product; equals cosine for normalized vectors.
}
