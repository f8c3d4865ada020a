//go:build cgo
// +build cgo

// Package embedding provides ONNX-based encoders (requires CGO and the
// onnxruntime shared library).
package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/pkg/utils"
)

// maxDetections is the fixed detector output slot count.
const maxDetections = 200

// ONNXAdapter runs a CLIP image tower, a CLIP text tower, and a face detector
// through ONNX Runtime. Sessions are created once and reused for the process
// lifetime; each session serializes its own Run calls with a mutex because
// tensors are pre-allocated and reused.
type ONNXAdapter struct {
	dimensions  int
	maxTokens   int
	minDetScore float64
	cache       *EmbeddingCache
	tokenizer   Tokenizer

	imageSession *ort.AdvancedSession
	imageInput   *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]
	imageMu      sync.Mutex

	textSession *ort.AdvancedSession
	textIDs     *ort.Tensor[int64]
	textMask    *ort.Tensor[int64]
	textOutput  *ort.Tensor[float32]
	textMu      sync.Mutex

	detSession *ort.AdvancedSession
	detInput   *ort.Tensor[float32]
	detBoxes   *ort.Tensor[float32]
	detScores  *ort.Tensor[float32]
	detMu      sync.Mutex
}

// NewONNXAdapter creates the adapter and loads all three models.
// InitializeEnvironment is called if not already done.
func NewONNXAdapter(cfg ONNXConfig) (*ONNXAdapter, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", models.ErrConfig)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 77
	}
	if cfg.TextCacheSize <= 0 {
		cfg.TextCacheSize = 10000
	}

	a := &ONNXAdapter{
		dimensions:  cfg.Dimensions,
		maxTokens:   cfg.MaxTokens,
		minDetScore: cfg.MinDetScore,
		cache:       NewEmbeddingCache(cfg.TextCacheSize),
		tokenizer:   &SimpleTokenizer{},
	}

	if err := a.initImageSession(cfg.ImageModelPath); err != nil {
		return nil, err
	}
	if err := a.initTextSession(cfg.TextModelPath); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initDetectorSession(cfg.DetectorModelPath); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *ONNXAdapter) initImageSession(modelPath string) error {
	const plane = clipInputSize * clipInputSize
	var err error
	a.imageInput, err = ort.NewTensor(ort.NewShape(1, 3, clipInputSize, clipInputSize), make([]float32, 3*plane))
	if err != nil {
		return fmt.Errorf("failed to create image input tensor: %w", err)
	}
	a.imageOutput, err = ort.NewTensor(ort.NewShape(1, int64(a.dimensions)), make([]float32, a.dimensions))
	if err != nil {
		return fmt.Errorf("failed to create image output tensor: %w", err)
	}
	a.imageSession, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{a.imageInput},
		[]ort.ArbitraryTensor{a.imageOutput},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create image session: %w", err)
	}
	return nil
}

func (a *ONNXAdapter) initTextSession(modelPath string) error {
	ids, mask := a.tokenizer.Tokenize("", a.maxTokens)
	var err error
	a.textIDs, err = ort.NewTensor(ort.NewShape(1, int64(a.maxTokens)), ids)
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	a.textMask, err = ort.NewTensor(ort.NewShape(1, int64(a.maxTokens)), mask)
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	a.textOutput, err = ort.NewTensor(ort.NewShape(1, int64(a.dimensions)), make([]float32, a.dimensions))
	if err != nil {
		return fmt.Errorf("failed to create text output tensor: %w", err)
	}
	a.textSession, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{a.textIDs, a.textMask},
		[]ort.ArbitraryTensor{a.textOutput},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	return nil
}

func (a *ONNXAdapter) initDetectorSession(modelPath string) error {
	const plane = detectorInputSize * detectorInputSize
	var err error
	a.detInput, err = ort.NewTensor(ort.NewShape(1, 3, detectorInputSize, detectorInputSize), make([]float32, 3*plane))
	if err != nil {
		return fmt.Errorf("failed to create detector input tensor: %w", err)
	}
	a.detBoxes, err = ort.NewTensor(ort.NewShape(1, maxDetections, 4), make([]float32, maxDetections*4))
	if err != nil {
		return fmt.Errorf("failed to create detector boxes tensor: %w", err)
	}
	a.detScores, err = ort.NewTensor(ort.NewShape(1, maxDetections), make([]float32, maxDetections))
	if err != nil {
		return fmt.Errorf("failed to create detector scores tensor: %w", err)
	}
	a.detSession, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"boxes", "scores"},
		[]ort.ArbitraryTensor{a.detInput},
		[]ort.ArbitraryTensor{a.detBoxes, a.detScores},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create detector session: %w", err)
	}
	return nil
}

// encodePreprocessed runs the image tower on an already-preprocessed tensor
// and returns a normalized embedding.
func (a *ONNXAdapter) encodePreprocessed(tensor []float32) ([]float32, error) {
	a.imageMu.Lock()
	defer a.imageMu.Unlock()

	copy(a.imageInput.GetData(), tensor)
	if err := a.imageSession.Run(); err != nil {
		return nil, fmt.Errorf("%w: image tower: %v", models.ErrModel, err)
	}
	embedding := make([]float32, a.dimensions)
	copy(embedding, a.imageOutput.GetData()[:a.dimensions])
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EncodeImage returns the whole-image embedding for the image at path.
func (a *ONNXAdapter) EncodeImage(ctx context.Context, path string) ([]float32, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return a.encodePreprocessed(PreprocessCLIP(img))
}

// EncodeText returns the embedding for text, using the cache when available.
func (a *ONNXAdapter) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := a.cache.Get(text); ok {
		return cached, nil
	}

	a.textMu.Lock()
	ids, mask := a.tokenizer.Tokenize(text, a.maxTokens)
	copy(a.textIDs.GetData(), ids)
	copy(a.textMask.GetData(), mask)
	if err := a.textSession.Run(); err != nil {
		a.textMu.Unlock()
		return nil, fmt.Errorf("%w: text tower: %v", models.ErrModel, err)
	}
	embedding := make([]float32, a.dimensions)
	copy(embedding, a.textOutput.GetData()[:a.dimensions])
	a.textMu.Unlock()

	utils.NormalizeL2(embedding)
	a.cache.Set(text, embedding)
	return embedding, nil
}

// DetectFaces runs the detector and encodes each face crop with the image tower.
func (a *ONNXAdapter) DetectFaces(ctx context.Context, path string) ([]DetectedFace, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	boxes, scores, err := a.runDetector(img)
	if err != nil {
		return nil, err
	}

	var faces []DetectedFace
	for i := 0; i < maxDetections; i++ {
		score := float64(scores[i])
		if score < a.minDetScore {
			continue
		}
		// Detector boxes are normalized to [0,1] over the letterboxed input.
		bbox := models.BBox{
			X1: clamp(int(boxes[i*4+0]*float32(w)), 0, w),
			Y1: clamp(int(boxes[i*4+1]*float32(h)), 0, h),
			X2: clamp(int(boxes[i*4+2]*float32(w)), 0, w),
			Y2: clamp(int(boxes[i*4+3]*float32(h)), 0, h),
		}
		crop, cropErr := CropBBox(img, bbox)
		if cropErr != nil {
			// Degenerate detection; skip the face, not the image.
			continue
		}
		embedding, encErr := a.encodePreprocessed(PreprocessCLIP(crop))
		if encErr != nil {
			return nil, encErr
		}
		faces = append(faces, DetectedFace{BBox: bbox, Embedding: embedding, DetScore: score})
	}
	return faces, nil
}

// runDetector scales img to the detector input and returns raw boxes and scores.
func (a *ONNXAdapter) runDetector(img image.Image) ([]float32, []float32, error) {
	tensor := preprocessDetector(img)

	a.detMu.Lock()
	defer a.detMu.Unlock()

	copy(a.detInput.GetData(), tensor)
	if err := a.detSession.Run(); err != nil {
		return nil, nil, fmt.Errorf("%w: face detector: %v", models.ErrModel, err)
	}
	boxes := make([]float32, maxDetections*4)
	copy(boxes, a.detBoxes.GetData())
	scores := make([]float32, maxDetections)
	copy(scores, a.detScores.GetData())
	return boxes, scores, nil
}

// Dimensions returns the embedding dimension.
func (a *ONNXAdapter) Dimensions() int {
	return a.dimensions
}

// Close destroys all sessions and tensors.
func (a *ONNXAdapter) Close() error {
	var err error
	for _, s := range []*ort.AdvancedSession{a.imageSession, a.textSession, a.detSession} {
		if s != nil {
			if e := s.Destroy(); e != nil && err == nil {
				err = e
			}
		}
	}
	a.imageSession, a.textSession, a.detSession = nil, nil, nil
	for _, t := range []ort.ArbitraryTensor{
		a.imageInput, a.imageOutput, a.textIDs, a.textMask, a.textOutput,
		a.detInput, a.detBoxes, a.detScores,
	} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	a.imageInput, a.imageOutput, a.textOutput = nil, nil, nil
	a.textIDs, a.textMask = nil, nil
	a.detInput, a.detBoxes, a.detScores = nil, nil, nil
	return err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
