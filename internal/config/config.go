// Package config provides configuration loading and structs for the Shashin server.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/shashin/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database and persisted indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
}

// EmbeddingConfig holds encoder and detector settings.
type EmbeddingConfig struct {
	// Adapter selects the embedding implementation: "onnx" (default) or
	// "mock". The mock produces deterministic fake embeddings and must be
	// opted into explicitly; it is never a fallback.
	Adapter string `yaml:"adapter"`
	// ImageModelPath is the CLIP image tower ONNX model.
	ImageModelPath string `yaml:"image_model_path"`
	// TextModelPath is the CLIP text tower ONNX model.
	TextModelPath string `yaml:"text_model_path"`
	// DetectorModelPath is the face detector ONNX model.
	DetectorModelPath string `yaml:"detector_model_path"`
	Dimensions        int    `yaml:"dimensions"`
	MaxTokens         int    `yaml:"max_tokens"`
	TextCacheSize     int    `yaml:"text_cache_size"`
	// MinDetScore filters out low-confidence face detections.
	MinDetScore float64 `yaml:"min_det_score"`
}

// IndexConfig holds offline build pipeline settings.
type IndexConfig struct {
	PhotoDirectory  string   `yaml:"photo_directory"`
	Mode            string   `yaml:"mode"`
	BatchSize       int      `yaml:"batch_size"`
	Workers         int      `yaml:"workers"`
	Extensions      []string `yaml:"extensions"`
	Recursive       *bool    `yaml:"recursive"`
	VectorIndexType string   `yaml:"vector_index_type"`
}

// RecursiveOrDefault returns whether to enumerate recursively; defaults to true when unset.
func (c *IndexConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// SearchConfig holds query thresholds and fusion weights.
type SearchConfig struct {
	DefaultFaceThreshold     float64 `yaml:"default_face_threshold"`
	DefaultActivityThreshold float64 `yaml:"default_activity_threshold"`
	DefaultSemanticThreshold float64 `yaml:"default_semantic_threshold"`
	FaceWeight               float64 `yaml:"face_weight"`
	ActivityWeight           float64 `yaml:"activity_weight"`
	DefaultLimit             int     `yaml:"default_limit"`
	MaxLimit                 int     `yaml:"max_limit"`
}

// ValidateWeights checks that the fusion weights sum to 1. Called at query
// time so a bad config fails the request rather than silently reweighting.
func (s *SearchConfig) ValidateWeights() error {
	sum := s.FaceWeight + s.ActivityWeight
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %.4f (face=%.2f activity=%.2f)",
			models.ErrConfig, sum, s.FaceWeight, s.ActivityWeight)
	}
	return nil
}

// ValidateAdapter checks that the configured adapter names a known
// embedding implementation.
func (e *EmbeddingConfig) ValidateAdapter() error {
	switch e.Adapter {
	case "onnx", "mock":
		return nil
	}
	return fmt.Errorf("%w: unknown embedding adapter %q (want onnx or mock)", models.ErrConfig, e.Adapter)
}

// WatchConfig holds photo-directory watch settings. When enabled, changes
// under the photo directory schedule a debounced wholesale rebuild.
type WatchConfig struct {
	Enabled     bool `yaml:"enabled"`
	DebounceSec int  `yaml:"debounce_seconds"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Embedding.ImageModelPath = expandPath(cfg.Embedding.ImageModelPath, configDir)
	cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	cfg.Embedding.DetectorModelPath = expandPath(cfg.Embedding.DetectorModelPath, configDir)
	if cfg.Index.PhotoDirectory != "" {
		cfg.Index.PhotoDirectory = expandPath(cfg.Index.PhotoDirectory, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting photo directory changes.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
