//go:build faiss && cgo
// +build faiss,cgo

// Package vector provides a FAISS-based vector index for large collections.
package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/hyperjump/shashin/internal/models"
)

// FAISSIndex wraps faiss_IndexFlatIP (inner product over normalized vectors,
// equivalent to cosine similarity).
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	idToIntID  map[string]int64
	intIDToID  map[int64]string
	nextID     int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS inner-product index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrConfig)
	}

	var index *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		idToIntID:  make(map[string]int64),
		intIDToID:  make(map[int64]string),
		nextID:     0,
	}, nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends vectors with the given IDs.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flatVectors := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d",
				models.ErrConfig, len(vec), f.dimensions)
		}
		copy(flatVectors[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	ret := C.faiss_Index_add(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flatVectors[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}

	for _, id := range ids {
		f.idToIntID[id] = f.nextID
		f.intIDToID[f.nextID] = id
		f.nextID++
	}
	return nil
}

// searchLocked runs a FAISS search for the k nearest vectors and maps labels
// back to string IDs. Caller holds at least a read lock.
func (f *FAISSIndex) searchLocked(query []float32, k int) ([]*Result, error) {
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 || k <= 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)

	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*Result, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 {
			continue
		}
		id, ok := f.intIDToID[label]
		if !ok {
			continue
		}
		results = append(results, &Result{ID: id, Similarity: float64(distances[i])})
	}
	// FAISS breaks equal-similarity ties by insertion order; re-sort with the
	// ascending-ID tie-break so output matches the flat index exactly.
	sortResults(results)
	return results, nil
}

// Search returns the top-k vectors by inner product.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrConfig, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	results, err := f.searchLocked(query, k)
	if err != nil {
		return nil, err
	}
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// SearchAboveThreshold scans the whole index and keeps every vector with
// similarity >= minSimilarity. Uses k = ntotal so no match is truncated.
func (f *FAISSIndex) SearchAboveThreshold(ctx context.Context, query []float32, minSimilarity float64) ([]*Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrConfig, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	ntotal := int(C.faiss_Index_ntotal(f.index))
	all, err := f.searchLocked(query, ntotal)
	if err != nil {
		return nil, err
	}
	matches := all[:0]
	for _, r := range all {
		if r.Similarity >= minSimilarity {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// faissIDMapping stores the ID mapping for persistence.
type faissIDMapping struct {
	IDToIntID  map[string]int64
	IntIDToID  map[int64]string
	NextID     int64
	Dimensions int
	Metric     string
}

// Save persists the index and ID mappings to path.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	cPath := C.CString(path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))

	ret := C.faiss_write_index_fname(f.index, cPath)
	if ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}

	mapping := faissIDMapping{
		IDToIntID:  f.idToIntID,
		IntIDToID:  f.intIDToID,
		NextID:     f.nextID,
		Dimensions: f.dimensions,
		Metric:     MetricInnerProduct,
	}

	mapFile, err := os.Create(path + ".idmap")
	if err != nil {
		return fmt.Errorf("create id map file: %w", err)
	}
	defer mapFile.Close()

	if err := gob.NewEncoder(mapFile).Encode(mapping); err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return nil
}

// Load reads the index and ID mappings from path. A missing file is a
// not-found error; corrupt files and dimension mismatches fail with a
// configuration error.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return fmt.Errorf("%w: vector index path is empty", models.ErrConfig)
	}

	faissPath := path + ".faiss"
	mapPath := path + ".idmap"

	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: vector index not found at %s (run an index build first)", models.ErrNotFound, faissPath)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))

	var newIndex *C.FaissIndex
	ret := C.faiss_read_index_fname(cPath, 0, &newIndex)
	if ret != 0 {
		return fmt.Errorf("%w: failed to load FAISS index: %s", models.ErrConfig, faissLastError())
	}

	mapFile, err := os.Open(mapPath)
	if err != nil {
		C.faiss_Index_free(newIndex)
		return fmt.Errorf("%w: open id map file: %v", models.ErrConfig, err)
	}
	defer mapFile.Close()

	var mapping faissIDMapping
	if err := gob.NewDecoder(mapFile).Decode(&mapping); err != nil {
		C.faiss_Index_free(newIndex)
		return fmt.Errorf("%w: decode id map: %v", models.ErrConfig, err)
	}
	if mapping.Dimensions != 0 && mapping.Dimensions != f.dimensions {
		C.faiss_Index_free(newIndex)
		return fmt.Errorf("%w: dimension mismatch: file has %d, index expects %d",
			models.ErrConfig, mapping.Dimensions, f.dimensions)
	}

	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = newIndex
	f.idToIntID = mapping.IDToIntID
	f.intIDToID = mapping.IntIDToID
	f.nextID = mapping.NextID
	return nil
}

// Size returns the number of vectors in the index.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToIntID)
}

// Dimensions returns the fixed embedding dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
