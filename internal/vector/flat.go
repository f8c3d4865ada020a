// Package vector provides a flat (brute-force) vector index. Exact search
// keeps query results reproducible; for the collection sizes this serves
// (tens of thousands of faces) a linear scan is fast enough.
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/shashin/internal/models"
)

// FlatIndex is an exact inner-product index over normalized vectors.
type FlatIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates a flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrConfig)
	}
	return &FlatIndex{
		dimensions: dimensions,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Add appends vectors with the given IDs.
func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != f.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d",
				models.ErrConfig, len(vectors[i]), f.dimensions)
		}
		vec := make([]float32, f.dimensions)
		copy(vec, vectors[i])
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

func (f *FlatIndex) scoreAllLocked(query []float32) []*Result {
	results := make([]*Result, len(f.ids))
	for i, vec := range f.vectors {
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		results[i] = &Result{ID: f.ids[i], Similarity: dot}
	}
	return results
}

func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
}

// Search returns the top-k vectors by inner product, ties broken by ascending ID.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrConfig, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	results := f.scoreAllLocked(query)
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// SearchAboveThreshold returns every vector with similarity >= minSimilarity,
// sorted by descending similarity with ascending-ID tie-break.
func (f *FlatIndex) SearchAboveThreshold(ctx context.Context, query []float32, minSimilarity float64) ([]*Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d",
			models.ErrConfig, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	all := f.scoreAllLocked(query)
	matches := all[:0]
	for _, r := range all {
		if r.Similarity >= minSimilarity {
			matches = append(matches, r)
		}
	}
	sortResults(matches)
	return matches, nil
}

const flatIndexMagic = uint32(0x53484e31) // "SHN1"

// Save persists the index to path. Directory is created if needed.
// Format: magic (4), metric tag len+bytes, dimension (4), n (4),
// then per vector: idLen (4), id bytes, vector (dimension*4 bytes).
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	// Write to a temp file and rename so a crash mid-save never leaves a
	// truncated index at the final path.
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := f.writeTo(fh); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (f *FlatIndex) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, flatIndexMagic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	metric := []byte(MetricInnerProduct)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(metric))); err != nil {
		return fmt.Errorf("write metric len: %w", err)
	}
	if _, err := w.Write(metric); err != nil {
		return fmt.Errorf("write metric: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range f.ids {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(f.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// A missing file is a not-found error so callers can tell "no build yet"
// apart from corruption or a dimension mismatch, which fail with a
// configuration error; queries must never run against a silently empty index.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return fmt.Errorf("%w: vector index path is empty", models.ErrConfig)
	}
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: vector index not found at %s (run an index build first)", models.ErrNotFound, path)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer fh.Close()

	var magic uint32
	if err := binary.Read(fh, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("%w: corrupt vector index: read magic: %v", models.ErrConfig, err)
	}
	if magic != flatIndexMagic {
		return fmt.Errorf("%w: corrupt vector index: bad magic %#x", models.ErrConfig, magic)
	}
	var metricLen uint32
	if err := binary.Read(fh, binary.LittleEndian, &metricLen); err != nil {
		return fmt.Errorf("%w: corrupt vector index: read metric len: %v", models.ErrConfig, err)
	}
	metric := make([]byte, metricLen)
	if _, err := io.ReadFull(fh, metric); err != nil {
		return fmt.Errorf("%w: corrupt vector index: read metric: %v", models.ErrConfig, err)
	}
	if string(metric) != MetricInnerProduct {
		return fmt.Errorf("%w: unsupported similarity metric %q", models.ErrConfig, string(metric))
	}
	var dim, n uint32
	if err := binary.Read(fh, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("%w: corrupt vector index: read dimensions: %v", models.ErrConfig, err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("%w: dimension mismatch: file has %d, index expects %d", models.ErrConfig, dim, f.dimensions)
	}
	if err := binary.Read(fh, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: corrupt vector index: read count: %v", models.ErrConfig, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = make([]string, 0, n)
	f.vectors = make([][]float32, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(fh, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("%w: corrupt vector index: read id len: %v", models.ErrConfig, err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(fh, idBytes); err != nil {
			return fmt.Errorf("%w: corrupt vector index: read id: %v", models.ErrConfig, err)
		}
		if _, err := io.ReadFull(fh, buf); err != nil {
			return fmt.Errorf("%w: corrupt vector index: read vector: %v", models.ErrConfig, err)
		}
		f.ids = append(f.ids, string(idBytes))
		f.vectors = append(f.vectors, bytesToFloat32Slice(buf))
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Dimensions returns the fixed embedding dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
