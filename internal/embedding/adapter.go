// Package embedding provides the embedding adapter: image encoding, text
// encoding, and face detection over a shared similarity space.
package embedding

import (
	"context"

	"github.com/hyperjump/shashin/internal/models"
)

// DetectedFace is one face found in an image: its bounding box and the
// embedding of the face crop.
type DetectedFace struct {
	BBox      models.BBox
	Embedding []float32
	DetScore  float64
}

// ONNXConfig holds model paths and inference settings for the ONNX adapter.
type ONNXConfig struct {
	ImageModelPath    string
	TextModelPath     string
	DetectorModelPath string
	Dimensions        int
	MaxTokens         int
	TextCacheSize     int
	MinDetScore       float64
}

// Adapter produces embeddings for images, text, and detected faces. All three
// encoders share one fixed dimension and one similarity space; vectors are
// L2-normalized. Implementations must be safe for concurrent use and cheap to
// call after first-use initialization.
type Adapter interface {
	// EncodeImage returns the whole-image embedding for the image at path.
	EncodeImage(ctx context.Context, path string) ([]float32, error)
	// EncodeText returns the embedding for a natural-language description.
	EncodeText(ctx context.Context, text string) ([]float32, error)
	// DetectFaces returns one DetectedFace per face found in the image at
	// path. An image with no faces returns an empty slice, not an error.
	DetectFaces(ctx context.Context, path string) ([]DetectedFace, error)
	Dimensions() int
	Close() error
}
