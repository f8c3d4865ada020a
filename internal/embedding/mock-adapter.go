package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// MockAdapter is a deterministic adapter for tests. Canned faces, image
// embeddings, and text embeddings can be registered per path/text; anything
// not canned falls back to a hash-derived vector so that equal inputs always
// produce equal embeddings.
type MockAdapter struct {
	dimensions int
	mu         sync.RWMutex
	faces      map[string][]DetectedFace
	images     map[string][]float32
	texts      map[string][]float32
	failures   map[string]error
	// RequireFiles makes EncodeImage/DetectFaces fail with an input error for
	// paths that do not exist on disk, mimicking the real adapter.
	RequireFiles bool
}

// NewMockAdapter returns an adapter producing deterministic embeddings of the given dimensions.
func NewMockAdapter(dimensions int) *MockAdapter {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockAdapter{
		dimensions: dimensions,
		faces:      make(map[string][]DetectedFace),
		images:     make(map[string][]float32),
		texts:      make(map[string][]float32),
		failures:   make(map[string]error),
	}
}

// SetFaces registers the faces DetectFaces returns for path.
func (m *MockAdapter) SetFaces(path string, faces []DetectedFace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[path] = faces
}

// SetImageEmbedding registers the embedding EncodeImage returns for path.
func (m *MockAdapter) SetImageEmbedding(path string, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = embedding
}

// SetTextEmbedding registers the embedding EncodeText returns for text.
func (m *MockAdapter) SetTextEmbedding(text string, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[text] = embedding
}

// hashEmbedding derives a normalized vector from a string hash.
func (m *MockAdapter) hashEmbedding(s string) []float32 {
	h := HashString(s)
	emb := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// SetError makes EncodeImage and DetectFaces fail for path.
func (m *MockAdapter) SetError(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = err
}

func (m *MockAdapter) checkFile(path string) error {
	m.mu.RLock()
	failure := m.failures[path]
	m.mu.RUnlock()
	if failure != nil {
		return failure
	}
	if !m.RequireFiles {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: open %s: %v", models.ErrInput, path, err)
	}
	return nil
}

// EncodeImage returns the canned embedding for path, or a hash-derived one.
func (m *MockAdapter) EncodeImage(ctx context.Context, path string) ([]float32, error) {
	if err := m.checkFile(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	emb, ok := m.images[path]
	m.mu.RUnlock()
	if ok {
		return emb, nil
	}
	return m.hashEmbedding("image:" + path), nil
}

// EncodeText returns the canned embedding for text, or a hash-derived one.
func (m *MockAdapter) EncodeText(ctx context.Context, text string) ([]float32, error) {
	m.mu.RLock()
	emb, ok := m.texts[text]
	m.mu.RUnlock()
	if ok {
		return emb, nil
	}
	return m.hashEmbedding("text:" + text), nil
}

// DetectFaces returns the canned faces for path. Paths without a canned entry
// yield no faces.
func (m *MockAdapter) DetectFaces(ctx context.Context, path string) ([]DetectedFace, error) {
	if err := m.checkFile(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.faces[path], nil
}

// Dimensions returns the embedding dimension.
func (m *MockAdapter) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockAdapter.
func (m *MockAdapter) Close() error {
	return nil
}
