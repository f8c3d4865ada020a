package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Builder runs the offline index build: enumerate photos, embed them (faces
// or whole images depending on mode), and replace the persisted index
// wholesale. A build failure leaves the previous index untouched.
type Builder struct {
	store        storage.Store
	adapter      embedding.Adapter
	keywordIndex keyword.Index
	cfg          *config.Config
	logger       *zap.Logger
}

// NewBuilder creates a builder with the given dependencies. keywordIndex may
// be nil when filename search is disabled.
func NewBuilder(store storage.Store, adapter embedding.Adapter, keywordIndex keyword.Index, cfg *config.Config, logger *zap.Logger) *Builder {
	return &Builder{
		store:        store,
		adapter:      adapter,
		keywordIndex: keywordIndex,
		cfg:          cfg,
		logger:       logger,
	}
}

// imageResult is the embedding output for one enumerated image. Results are
// collected per enumeration position and appended in that order, so the
// index layout does not depend on worker scheduling.
type imageResult struct {
	records []*storage.Record
	vectors [][]float32
	skipped bool
}

// Build runs one full index build and atomically replaces the persisted
// index. The returned vector index is the freshly built one, ready to serve.
func (b *Builder) Build(ctx context.Context) (vector.Index, *models.BuildReport, error) {
	mode := models.IndexMode(b.cfg.Index.Mode)
	if err := mode.Validate(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	runID := uuid.New().String()

	paths, err := b.enumerate()
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("%w: no indexable images under %s", models.ErrInput, b.cfg.Index.PhotoDirectory)
	}

	b.logger.Info("index build started",
		zap.String("run_id", runID),
		zap.String("mode", string(mode)),
		zap.Int("images", len(paths)),
		zap.Int("workers", b.cfg.Index.Workers))

	// Workers each take a batch of consecutive images. Results land in a
	// per-position slice, so nothing downstream depends on completion order.
	results := make([]imageResult, len(paths))
	batchSize := b.cfg.Index.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Index.Workers)
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		start, end := start, end
		g.Go(func() error {
			for i := start; i < end; i++ {
				res, err := b.processImage(gctx, mode, paths[i])
				if err != nil {
					// Unreadable or undecodable images are counted and
					// skipped; anything else (model failure, cancellation)
					// aborts the build.
					if errors.Is(err, models.ErrInput) {
						b.logger.Warn("skipping unreadable image", zap.String("path", paths[i]), zap.Error(err))
						results[i] = imageResult{skipped: true}
						continue
					}
					return fmt.Errorf("processing %s: %w", paths[i], err)
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Append in enumeration order so two builds over the same photos produce
	// the same index regardless of batch size or worker count.
	var records []*storage.Record
	var ids []string
	var vectors [][]float32
	processed, skipped := 0, 0
	for _, res := range results {
		if res.skipped {
			skipped++
			continue
		}
		processed++
		for j, rec := range res.records {
			records = append(records, rec)
			ids = append(ids, rec.ID)
			vectors = append(vectors, res.vectors[j])
		}
	}

	idx, err := vector.NewIndex(b.cfg.Index.VectorIndexType, b.cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) > 0 {
		if err := idx.Add(ctx, ids, vectors); err != nil {
			_ = idx.Close()
			return nil, nil, fmt.Errorf("failed to populate vector index: %w", err)
		}
	}
	if err := idx.Save(b.cfg.Storage.VectorIndexPath); err != nil {
		_ = idx.Close()
		return nil, nil, fmt.Errorf("failed to persist vector index: %w", err)
	}

	manifest := models.IndexManifest{
		Mode:          mode,
		Dimensions:    b.cfg.Embedding.Dimensions,
		SchemaVersion: models.SchemaVersion,
		EntryCount:    len(records),
		BuiltAt:       time.Now().UTC(),
	}
	if err := b.store.ReplaceIndex(ctx, manifest, records); err != nil {
		_ = idx.Close()
		return nil, nil, fmt.Errorf("failed to persist index metadata: %w", err)
	}

	if b.keywordIndex != nil {
		if err := b.rebuildKeywordIndex(ctx, results, paths); err != nil {
			// Filename search is a convenience layer; a keyword failure does
			// not invalidate the embedding index.
			b.logger.Warn("keyword index rebuild failed", zap.Error(err))
		}
	}

	report := &models.BuildReport{
		RunID:          runID,
		Mode:           mode,
		ProcessedCount: processed,
		SkippedCount:   skipped,
		EntryCount:     len(records),
		Duration:       time.Since(start),
		DurationMillis: time.Since(start).Milliseconds(),
	}
	b.logger.Info("index build finished",
		zap.String("run_id", runID),
		zap.Int("processed", report.ProcessedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("entries", report.EntryCount),
		zap.Duration("duration", report.Duration))
	return idx, report, nil
}

// processImage embeds one image according to the index mode.
func (b *Builder) processImage(ctx context.Context, mode models.IndexMode, path string) (imageResult, error) {
	switch mode {
	case models.ModeFace:
		faces, err := b.adapter.DetectFaces(ctx, path)
		if err != nil {
			return imageResult{}, err
		}
		res := imageResult{}
		for _, face := range faces {
			res.records = append(res.records, &storage.Record{
				ID:        FaceRecordID(path, face.BBox),
				ImagePath: path,
				BBox:      &models.BBox{X1: face.BBox.X1, Y1: face.BBox.Y1, X2: face.BBox.X2, Y2: face.BBox.Y2},
				DetScore:  face.DetScore,
			})
			res.vectors = append(res.vectors, face.Embedding)
		}
		return res, nil
	case models.ModeFullImage:
		emb, err := b.adapter.EncodeImage(ctx, path)
		if err != nil {
			return imageResult{}, err
		}
		return imageResult{
			records: []*storage.Record{{ID: ImageRecordID(path), ImagePath: path}},
			vectors: [][]float32{emb},
		}, nil
	}
	return imageResult{}, fmt.Errorf("%w: unknown index mode %q", models.ErrConfig, string(mode))
}

// rebuildKeywordIndex resets the filename index and repopulates it with every
// image that made it into the build (skipped images are excluded).
func (b *Builder) rebuildKeywordIndex(ctx context.Context, results []imageResult, paths []string) error {
	if err := b.keywordIndex.Reset(ctx); err != nil {
		return err
	}
	for i, res := range results {
		if res.skipped {
			continue
		}
		if err := b.keywordIndex.Index(ctx, paths[i]); err != nil {
			return err
		}
	}
	return nil
}

// enumerate lists indexable images under the photo directory in sorted order.
// Hidden files and directories are skipped; extensions are filtered against
// the configured list case-insensitively.
func (b *Builder) enumerate() ([]string, error) {
	root := b.cfg.Index.PhotoDirectory
	if root == "" {
		return nil, fmt.Errorf("%w: photo directory is not configured", models.ErrConfig)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: photo directory %s: %v", models.ErrInput, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", models.ErrInput, root)
	}

	recursive := b.cfg.Index.RecursiveOrDefault()
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (!recursive || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if b.extensionAllowed(strings.ToLower(filepath.Ext(name))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (b *Builder) extensionAllowed(ext string) bool {
	for _, allowed := range b.cfg.Index.Extensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}
