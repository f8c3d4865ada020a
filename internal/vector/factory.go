// Package vector provides vector index implementations and a factory for creating them.
package vector

import (
	"fmt"

	"github.com/hyperjump/shashin/internal/models"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses in-memory brute-force exact search. Deterministic,
	// no external dependencies; fine up to tens of thousands of vectors.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses FAISS for ANN search on large collections.
	// Requires the FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// NewIndex creates a vector index of the specified type.
// Supported types: "flat" (default), "faiss".
func NewIndex(indexType string, dimensions int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown vector index type %q (supported: flat, faiss)", models.ErrConfig, indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
