package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/photos.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/shashin/data/indices/vectors.bin"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/shashin/data/indices/bleve"
	}
	if cfg.Embedding.Adapter == "" {
		cfg.Embedding.Adapter = "onnx"
	}
	if cfg.Embedding.ImageModelPath == "" {
		cfg.Embedding.ImageModelPath = "/usr/local/var/shashin/data/models/clip-vit-b-32-visual.onnx"
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "/usr/local/var/shashin/data/models/clip-vit-b-32-textual.onnx"
	}
	if cfg.Embedding.DetectorModelPath == "" {
		cfg.Embedding.DetectorModelPath = "/usr/local/var/shashin/data/models/face-detector.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.TextCacheSize == 0 {
		cfg.Embedding.TextCacheSize = 10000
	}
	if cfg.Embedding.MinDetScore == 0 {
		cfg.Embedding.MinDetScore = 0.5
	}
	if cfg.Index.Mode == "" {
		cfg.Index.Mode = "face"
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 32
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = 4
	}
	if cfg.Index.Extensions == nil {
		cfg.Index.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp"}
	}
	if cfg.Index.VectorIndexType == "" {
		cfg.Index.VectorIndexType = "flat"
	}
	if cfg.Search.DefaultFaceThreshold == 0 {
		cfg.Search.DefaultFaceThreshold = 0.5
	}
	if cfg.Search.DefaultActivityThreshold == 0 {
		cfg.Search.DefaultActivityThreshold = 0.2
	}
	if cfg.Search.DefaultSemanticThreshold == 0 {
		cfg.Search.DefaultSemanticThreshold = 0.2
	}
	if cfg.Search.FaceWeight == 0 && cfg.Search.ActivityWeight == 0 {
		cfg.Search.FaceWeight = 0.4
		cfg.Search.ActivityWeight = 0.6
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 50
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 500
	}
	if cfg.Watch.DebounceSec == 0 {
		cfg.Watch.DebounceSec = 30
	}
}
