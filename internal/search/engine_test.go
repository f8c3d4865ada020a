package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
)

func normalized(vals ...float32) []float32 {
	var sum float64
	for _, v := range vals {
		sum += float64(v * v)
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = v / norm
	}
	return out
}

func searchConfig() *config.SearchConfig {
	return &config.SearchConfig{
		DefaultFaceThreshold:     0.5,
		DefaultActivityThreshold: 0.2,
		DefaultSemanticThreshold: 0.2,
		FaceWeight:               0.4,
		ActivityWeight:           0.6,
		DefaultLimit:             50,
		MaxLimit:                 500,
	}
}

type fixture struct {
	store   *storage.SQLiteStore
	adapter *embedding.MockAdapter
	index   *vector.FlatIndex
	engine  *Engine
}

// newFixture builds an engine over a small face-mode collection:
//   - photoA: Ana cooking (face sim 0.8 to her profile, activity sim 0.8)
//   - photoB: Ana hiking (face sim 0.6, activity sim ~0.3 for "cooking")
//   - photoC: Bob cooking (face sim 0.0 to Ana's profile)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := embedding.NewMockAdapter(4)
	idx, err := vector.NewFlatIndex(4)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := store.PutProfile(ctx, &models.PersonProfile{
		Name:          "Ana",
		Embedding:     normalized(1, 0, 0, 0),
		ImagePath:     "/photos/ana-ref.jpg",
		RegisteredAt:  time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
	}); err != nil {
		t.Fatal(err)
	}

	faces := map[string][]float32{
		"face:A": normalized(0.8, 0.6, 0, 0), // sim 0.8 to Ana
		"face:B": normalized(0.6, 0.8, 0, 0), // sim 0.6 to Ana
		"face:C": normalized(0, 0, 1, 0),     // Bob
	}
	records := []*storage.Record{
		{ID: "face:A", ImagePath: "/photos/a.jpg", BBox: &models.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, DetScore: 0.9},
		{ID: "face:B", ImagePath: "/photos/b.jpg", BBox: &models.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, DetScore: 0.9},
		{ID: "face:C", ImagePath: "/photos/c.jpg", BBox: &models.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, DetScore: 0.9},
	}
	if err := store.ReplaceIndex(ctx, models.IndexManifest{
		Mode:          models.ModeFace,
		Dimensions:    4,
		SchemaVersion: models.SchemaVersion,
		EntryCount:    len(records),
		BuiltAt:       time.Now().UTC(),
	}, records); err != nil {
		t.Fatal(err)
	}
	for id, emb := range faces {
		if err := idx.Add(ctx, []string{id}, [][]float32{emb}); err != nil {
			t.Fatal(err)
		}
	}

	// Activity space: "cooking" is the fourth axis.
	adapter.SetTextEmbedding("cooking", normalized(0, 0, 0, 1))
	adapter.SetImageEmbedding("/photos/a.jpg", normalized(0, 0, 0.6, 0.8))
	adapter.SetImageEmbedding("/photos/b.jpg", normalized(0, 0, float32(math.Sqrt(0.91)), 0.3))
	adapter.SetImageEmbedding("/photos/c.jpg", normalized(0, 0, 0.6, 0.8))

	engine := NewEngine(store, adapter, idx, nil, searchConfig(), zap.NewNop())
	return &fixture{store: store, adapter: adapter, index: idx, engine: engine}
}

func TestEngine_SearchByName(t *testing.T) {
	f := newFixture(t)
	resp, err := f.engine.SearchByName(context.Background(), "Ana", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", resp.Total)
	}
	if resp.Matches[0].ImagePath != "/photos/a.jpg" || resp.Matches[1].ImagePath != "/photos/b.jpg" {
		t.Errorf("unexpected order: %s, %s", resp.Matches[0].ImagePath, resp.Matches[1].ImagePath)
	}
	if math.Abs(resp.Matches[0].FaceSimilarity-0.8) > 1e-4 {
		t.Errorf("expected face similarity 0.8, got %f", resp.Matches[0].FaceSimilarity)
	}
	if resp.Matches[0].Rank != 1 || resp.Matches[1].Rank != 2 {
		t.Errorf("ranks not assigned: %d, %d", resp.Matches[0].Rank, resp.Matches[1].Rank)
	}
	if len(resp.Matches[0].Faces) != 1 {
		t.Errorf("expected 1 face hit, got %d", len(resp.Matches[0].Faces))
	}
	if resp.Matches[0].CombinedScore != nil || resp.Matches[0].ActivitySimilarity != nil {
		t.Error("identity-only results must not carry combined or activity scores")
	}
}

func TestEngine_SearchByName_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	resp, err := f.engine.SearchByName(context.Background(), "ana", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 matches for lowercased name, got %d", resp.Total)
	}
}

func TestEngine_SearchByName_UnknownPerson(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SearchByName(context.Background(), "Zoe", nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_SearchByName_ImpossibleThreshold(t *testing.T) {
	f := newFixture(t)
	th := 1.1
	resp, err := f.engine.SearchByName(context.Background(), "Ana", &Options{FaceThreshold: &th})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 {
		t.Errorf("threshold above 1.0 must return empty results, got %d", resp.Total)
	}
}

func TestEngine_SearchByName_Limit(t *testing.T) {
	f := newFixture(t)
	resp, err := f.engine.SearchByName(context.Background(), "Ana", &Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 1 {
		t.Errorf("expected 1 match with limit=1, got %d", len(resp.Matches))
	}
	// Total reports the full match count before truncation.
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
}

func TestEngine_SearchByName_DedupesFacesPerPhoto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Second face of Ana in photo A, slightly weaker.
	records, _ := f.store.ListRecords(ctx)
	records = append(records, &storage.Record{
		ID: "face:A2", ImagePath: "/photos/a.jpg",
		BBox: &models.BBox{X1: 100, Y1: 0, X2: 150, Y2: 50}, DetScore: 0.9,
	})
	if err := f.store.ReplaceIndex(ctx, models.IndexManifest{
		Mode: models.ModeFace, Dimensions: 4, SchemaVersion: models.SchemaVersion,
		EntryCount: len(records), BuiltAt: time.Now().UTC(),
	}, records); err != nil {
		t.Fatal(err)
	}
	if err := f.index.Add(ctx, []string{"face:A2"}, [][]float32{normalized(0.7, 0.714, 0, 0)}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.engine.SearchByName(ctx, "Ana", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("two faces in one photo must collapse to one match, got %d", resp.Total)
	}
	top := resp.Matches[0]
	if top.ImagePath != "/photos/a.jpg" {
		t.Fatalf("expected photo A first, got %s", top.ImagePath)
	}
	if math.Abs(top.FaceSimilarity-0.8) > 1e-4 {
		t.Errorf("photo similarity must be the best face's: %f", top.FaceSimilarity)
	}
	if len(top.Faces) != 2 {
		t.Errorf("expected both matching faces listed, got %d", len(top.Faces))
	}
}

func TestEngine_SearchByNameAndActivity(t *testing.T) {
	f := newFixture(t)
	resp, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "cooking", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", resp.Total)
	}
	top := resp.Matches[0]
	if top.ImagePath != "/photos/a.jpg" {
		t.Errorf("cooking photo should rank first, got %s", top.ImagePath)
	}
	if top.CombinedScore == nil || top.ActivitySimilarity == nil {
		t.Fatal("combined results must carry both scores")
	}
	want := 0.4*top.FaceSimilarity + 0.6**top.ActivitySimilarity
	if math.Abs(*top.CombinedScore-want) > 1e-9 {
		t.Errorf("combined score %f, expected %f", *top.CombinedScore, want)
	}
	if math.Abs(*top.CombinedScore-0.8) > 1e-4 {
		t.Errorf("expected combined 0.8 for photo A, got %f", *top.CombinedScore)
	}
}

func TestEngine_SearchByNameAndActivity_ActivityThresholdFilters(t *testing.T) {
	f := newFixture(t)
	th := 0.5
	resp, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "cooking",
		&Options{ActivityThreshold: &th})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Matches[0].ImagePath != "/photos/a.jpg" {
		t.Errorf("hiking photo should be filtered by activity threshold: %+v", resp.Matches)
	}
}

func TestEngine_SearchByNameAndActivity_InvalidWeights(t *testing.T) {
	f := newFixture(t)
	fw, aw := 0.5, 0.8
	_, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "cooking",
		&Options{FaceWeight: &fw, ActivityWeight: &aw})
	if !errors.Is(err, models.ErrConfig) {
		t.Errorf("weights not summing to 1 must be ErrConfig, got %v", err)
	}
}

func TestEngine_SearchByNameAndActivity_CustomWeights(t *testing.T) {
	f := newFixture(t)
	fw, aw := 1.0, 0.0
	resp, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "cooking",
		&Options{FaceWeight: &fw, ActivityWeight: &aw})
	if err != nil {
		t.Fatal(err)
	}
	top := resp.Matches[0]
	if math.Abs(*top.CombinedScore-top.FaceSimilarity) > 1e-9 {
		t.Errorf("with face weight 1 the combined score is the face similarity: %f vs %f",
			*top.CombinedScore, top.FaceSimilarity)
	}
}

func TestEngine_SearchByNameAndActivity_MissingImageDropped(t *testing.T) {
	f := newFixture(t)
	f.adapter.SetError("/photos/b.jpg", fmt.Errorf("%w: file vanished", models.ErrInput))

	resp, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "cooking", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("expected the readable candidate only, got %d", resp.Total)
	}
	if resp.SkippedCandidates != 1 {
		t.Errorf("expected 1 skipped candidate, got %d", resp.SkippedCandidates)
	}
}

func TestEngine_SearchByNameAndActivity_EmptyActivity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SearchByNameAndActivity(context.Background(), "Ana", "", nil)
	if !errors.Is(err, models.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}
}

func TestEngine_ModeGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Face-mode index rejects semantic-only queries.
	_, err := f.engine.SearchSemantic(ctx, "sunset", nil)
	if !errors.Is(err, models.ErrUnsupportedMode) {
		t.Errorf("expected ErrUnsupportedMode for semantic on face index, got %v", err)
	}

	// Swap manifest to full_image: identity queries are now rejected.
	if err := f.store.ReplaceIndex(ctx, models.IndexManifest{
		Mode: models.ModeFullImage, Dimensions: 4, SchemaVersion: models.SchemaVersion,
		EntryCount: 0, BuiltAt: time.Now().UTC(),
	}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SearchByName(ctx, "Ana", nil); !errors.Is(err, models.ErrUnsupportedMode) {
		t.Errorf("expected ErrUnsupportedMode for identity on full_image index, got %v", err)
	}
	if _, err := f.engine.SearchByNameAndActivity(ctx, "Ana", "cooking", nil); !errors.Is(err, models.ErrUnsupportedMode) {
		t.Errorf("expected ErrUnsupportedMode for combined on full_image index, got %v", err)
	}
}

func TestEngine_SearchSemantic(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	adapter := embedding.NewMockAdapter(4)
	idx, err := vector.NewFlatIndex(4)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	records := []*storage.Record{
		{ID: "image:sunset", ImagePath: "/photos/sunset.jpg"},
		{ID: "image:office", ImagePath: "/photos/office.jpg"},
	}
	if err := store.ReplaceIndex(ctx, models.IndexManifest{
		Mode: models.ModeFullImage, Dimensions: 4, SchemaVersion: models.SchemaVersion,
		EntryCount: len(records), BuiltAt: time.Now().UTC(),
	}, records); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx,
		[]string{"image:sunset", "image:office"},
		[][]float32{normalized(0, 0, 0, 1), normalized(0, 1, 0, 0)},
	); err != nil {
		t.Fatal(err)
	}
	adapter.SetTextEmbedding("sunset over the sea", normalized(0, 0, 0.2, 0.98))

	engine := NewEngine(store, adapter, idx, nil, searchConfig(), zap.NewNop())
	resp, err := engine.SearchSemantic(ctx, "sunset over the sea", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Matches[0].ImagePath != "/photos/sunset.jpg" {
		t.Errorf("unexpected semantic results: %+v", resp.Matches)
	}
	if resp.Matches[0].Similarity <= 0.2 {
		t.Errorf("similarity should clear the default threshold: %f", resp.Matches[0].Similarity)
	}
}

func TestCombineScores(t *testing.T) {
	got := CombineScores(0.9, 0.5, 0.4, 0.6)
	want := 0.4*0.9 + 0.6*0.5
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, got)
	}
}
