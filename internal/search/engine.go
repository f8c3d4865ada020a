// Package search implements the query engine: identity search, combined
// identity+activity search with score fusion, semantic search, and filename
// keyword search.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

// Engine answers queries against one loaded index. The vector index and
// metadata are immutable while serving; a rebuild swaps in a new Engine.
type Engine struct {
	store        storage.Store
	adapter      embedding.Adapter
	vectorIndex  vector.Index
	keywordIndex keyword.Index
	config       *config.SearchConfig
	logger       *zap.Logger
}

// NewEngine creates a query engine with the given dependencies. keywordIndex
// may be nil when filename search is disabled.
func NewEngine(
	store storage.Store,
	adapter embedding.Adapter,
	vectorIndex vector.Index,
	keywordIndex keyword.Index,
	cfg *config.SearchConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:        store,
		adapter:      adapter,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       logger,
	}
}

// Options are per-query overrides. Nil pointer fields fall back to the
// configured defaults; Limit <= 0 falls back to the default limit.
type Options struct {
	// FaceThreshold is the minimum face cosine similarity for identity queries.
	FaceThreshold *float64
	// ActivityThreshold is the minimum activity similarity in combined queries.
	ActivityThreshold *float64
	// SemanticThreshold is the minimum similarity for semantic-only queries.
	SemanticThreshold *float64
	// FaceWeight and ActivityWeight override the fusion weights. Either both
	// or neither should be set; the resulting pair must sum to 1.
	FaceWeight     *float64
	ActivityWeight *float64
	Limit          int
}

func (e *Engine) limit(opts *Options) int {
	limit := e.config.DefaultLimit
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}
	return limit
}

func threshold(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}

func (e *Engine) fusionWeights(opts *Options) (faceW, activityW float64, err error) {
	cfg := *e.config
	if opts != nil {
		if opts.FaceWeight != nil {
			cfg.FaceWeight = *opts.FaceWeight
		}
		if opts.ActivityWeight != nil {
			cfg.ActivityWeight = *opts.ActivityWeight
		}
	}
	if err := cfg.ValidateWeights(); err != nil {
		return 0, 0, err
	}
	return cfg.FaceWeight, cfg.ActivityWeight, nil
}

// requireMode checks the loaded index was built with the mode this query
// shape needs.
func (e *Engine) requireMode(ctx context.Context, want models.IndexMode) error {
	manifest, err := e.store.Manifest(ctx)
	if err != nil {
		return err
	}
	if manifest.Mode != want {
		return fmt.Errorf("%w: query requires a %q index, loaded index was built with mode %q",
			models.ErrUnsupportedMode, want, manifest.Mode)
	}
	return nil
}

// candidate is one photo that passed the identity stage, carrying its best
// face similarity and every matching face.
type candidate struct {
	imagePath string
	bestSim   float64
	faces     []models.FaceHit
}

// identityCandidates scans the face index for faces similar to the profile
// embedding and groups hits by photo. Each photo keeps its best-matching
// face's similarity; every matching face is retained for the response. The
// scan is threshold-based, never top-k, so a person in many photos loses no
// candidates.
func (e *Engine) identityCandidates(ctx context.Context, profile *models.PersonProfile, faceThreshold float64) ([]*candidate, error) {
	hits, err := e.vectorIndex.SearchAboveThreshold(ctx, profile.Embedding, faceThreshold)
	if err != nil {
		return nil, fmt.Errorf("face index scan failed: %w", err)
	}

	byImage := make(map[string]*candidate)
	var order []string
	for _, hit := range hits {
		rec, err := e.store.GetRecord(ctx, hit.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve record %s: %w", hit.ID, err)
		}
		cand, ok := byImage[rec.ImagePath]
		if !ok {
			cand = &candidate{imagePath: rec.ImagePath, bestSim: hit.Similarity}
			byImage[rec.ImagePath] = cand
			order = append(order, rec.ImagePath)
		}
		if hit.Similarity > cand.bestSim {
			cand.bestSim = hit.Similarity
		}
		if rec.BBox != nil {
			cand.faces = append(cand.faces, models.FaceHit{BBox: *rec.BBox, Similarity: hit.Similarity})
		}
	}

	out := make([]*candidate, 0, len(order))
	for _, path := range order {
		out = append(out, byImage[path])
	}
	return out, nil
}

// SearchByName returns photos containing the registered person, ranked by
// best face similarity. An unregistered name is ErrNotFound; a registered
// person with no matching photos is an empty result.
func (e *Engine) SearchByName(ctx context.Context, name string, opts *Options) (*models.SearchResponse, error) {
	start := time.Now()
	if err := e.requireMode(ctx, models.ModeFace); err != nil {
		return nil, err
	}
	profile, err := e.store.GetProfile(ctx, name)
	if err != nil {
		return nil, err
	}

	faceThreshold := threshold(optField(opts, func(o *Options) *float64 { return o.FaceThreshold }), e.config.DefaultFaceThreshold)
	candidates, err := e.identityCandidates(ctx, profile, faceThreshold)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.PhotoMatch, 0, len(candidates))
	for _, cand := range candidates {
		matches = append(matches, &models.PhotoMatch{
			ImagePath:      cand.imagePath,
			FaceSimilarity: cand.bestSim,
			Faces:          cand.faces,
		})
	}
	sortMatches(matches, func(m *models.PhotoMatch) float64 { return m.FaceSimilarity })

	total := len(matches)
	if limit := e.limit(opts); len(matches) > limit {
		matches = matches[:limit]
	}
	e.logger.Debug("identity search",
		zap.String("name", profile.Name),
		zap.Float64("threshold", faceThreshold),
		zap.Int("matches", total))
	return &models.SearchResponse{
		Matches:   matches,
		Total:     total,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// SearchByNameAndActivity returns photos where the registered person appears
// in the described activity context. Stage one gathers identity candidates by
// face similarity; stage two scores each candidate photo's whole-image
// embedding against the activity text and fuses the two scores. Candidates
// whose image can no longer be read are dropped and counted, not fatal.
func (e *Engine) SearchByNameAndActivity(ctx context.Context, name, activity string, opts *Options) (*models.SearchResponse, error) {
	start := time.Now()
	if activity == "" {
		return nil, fmt.Errorf("%w: activity description must not be empty", models.ErrInput)
	}
	faceW, activityW, err := e.fusionWeights(opts)
	if err != nil {
		return nil, err
	}
	if err := e.requireMode(ctx, models.ModeFace); err != nil {
		return nil, err
	}
	profile, err := e.store.GetProfile(ctx, name)
	if err != nil {
		return nil, err
	}

	faceThreshold := threshold(optField(opts, func(o *Options) *float64 { return o.FaceThreshold }), e.config.DefaultFaceThreshold)
	activityThreshold := threshold(optField(opts, func(o *Options) *float64 { return o.ActivityThreshold }), e.config.DefaultActivityThreshold)

	candidates, err := e.identityCandidates(ctx, profile, faceThreshold)
	if err != nil {
		return nil, err
	}

	textEmb, err := e.adapter.EncodeText(ctx, activity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode activity text: %w", err)
	}

	matches := make([]*models.PhotoMatch, 0, len(candidates))
	skipped := 0
	for _, cand := range candidates {
		imageEmb, err := e.adapter.EncodeImage(ctx, cand.imagePath)
		if err != nil {
			if errors.Is(err, models.ErrInput) {
				e.logger.Warn("dropping candidate with unreadable image",
					zap.String("path", cand.imagePath), zap.Error(err))
				skipped++
				continue
			}
			return nil, fmt.Errorf("failed to encode candidate image %s: %w", cand.imagePath, err)
		}
		activitySim := vector.InnerProduct(textEmb, imageEmb)
		if activitySim < activityThreshold {
			continue
		}
		combined := CombineScores(cand.bestSim, activitySim, faceW, activityW)
		actSim, comb := activitySim, combined
		matches = append(matches, &models.PhotoMatch{
			ImagePath:          cand.imagePath,
			FaceSimilarity:     cand.bestSim,
			ActivitySimilarity: &actSim,
			CombinedScore:      &comb,
			Faces:              cand.faces,
		})
	}
	sortMatches(matches, func(m *models.PhotoMatch) float64 { return *m.CombinedScore })

	total := len(matches)
	if limit := e.limit(opts); len(matches) > limit {
		matches = matches[:limit]
	}
	e.logger.Debug("identity+activity search",
		zap.String("name", profile.Name),
		zap.String("activity", activity),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", total),
		zap.Int("skipped", skipped))
	return &models.SearchResponse{
		Matches:           matches,
		Total:             total,
		QueryTime:         time.Since(start).Milliseconds(),
		SkippedCandidates: skipped,
	}, nil
}

// SearchSemantic returns photos matching a text description, ranked by
// text-to-image similarity. Requires a full_image index.
func (e *Engine) SearchSemantic(ctx context.Context, text string, opts *Options) (*models.SearchResponse, error) {
	start := time.Now()
	if text == "" {
		return nil, fmt.Errorf("%w: query text must not be empty", models.ErrInput)
	}
	if err := e.requireMode(ctx, models.ModeFullImage); err != nil {
		return nil, err
	}
	textEmb, err := e.adapter.EncodeText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query text: %w", err)
	}

	semanticThreshold := threshold(optField(opts, func(o *Options) *float64 { return o.SemanticThreshold }), e.config.DefaultSemanticThreshold)
	hits, err := e.vectorIndex.SearchAboveThreshold(ctx, textEmb, semanticThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]*models.PhotoMatch, 0, len(hits))
	for _, hit := range hits {
		rec, err := e.store.GetRecord(ctx, hit.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve record %s: %w", hit.ID, err)
		}
		matches = append(matches, &models.PhotoMatch{
			ImagePath:  rec.ImagePath,
			Similarity: hit.Similarity,
		})
	}
	sortMatches(matches, func(m *models.PhotoMatch) float64 { return m.Similarity })

	total := len(matches)
	if limit := e.limit(opts); len(matches) > limit {
		matches = matches[:limit]
	}
	return &models.SearchResponse{
		Matches:   matches,
		Total:     total,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// SearchByFilename runs keyword search over indexed photo filenames.
func (e *Engine) SearchByFilename(ctx context.Context, query string, limit int) (*models.SearchResponse, error) {
	start := time.Now()
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", models.ErrInput)
	}
	if e.keywordIndex == nil {
		return nil, fmt.Errorf("%w: filename search is not enabled", models.ErrConfig)
	}
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}
	results, err := e.keywordIndex.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	matches := make([]*models.PhotoMatch, len(results))
	for i, r := range results {
		matches[i] = &models.PhotoMatch{
			ImagePath:  r.Path,
			Similarity: r.Score,
			Rank:       i + 1,
		}
	}
	return &models.SearchResponse{
		Matches:   matches,
		Total:     len(matches),
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

func optField(opts *Options, get func(*Options) *float64) *float64 {
	if opts == nil {
		return nil
	}
	return get(opts)
}
