package people

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
)

func testRegistry(t *testing.T) (*Registry, *embedding.MockAdapter) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	adapter := embedding.NewMockAdapter(4)
	return NewRegistry(store, adapter, zap.NewNop()), adapter
}

func oneFace(emb []float32) []embedding.DetectedFace {
	return []embedding.DetectedFace{{
		BBox:      models.BBox{X1: 10, Y1: 10, X2: 100, Y2: 100},
		Embedding: emb,
		DetScore:  0.95,
	}}
}

func TestRegistry_Register(t *testing.T) {
	reg, adapter := testRegistry(t)
	ctx := context.Background()
	adapter.SetFaces("/photos/ana.jpg", oneFace([]float32{1, 0, 0, 0}))

	profile, replaced, err := reg.Register(ctx, "Ana", "/photos/ana.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if replaced {
		t.Error("first registration should not report replaced")
	}
	if profile.Name != "Ana" || profile.SchemaVersion != models.SchemaVersion {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if profile.Embedding[0] != 1 {
		t.Errorf("profile embedding should come from the detected face: %v", profile.Embedding)
	}

	got, err := reg.Get(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if got.ImagePath != "/photos/ana.jpg" {
		t.Errorf("unexpected stored profile: %+v", got)
	}
}

func TestRegistry_RegisterOverwrite(t *testing.T) {
	reg, adapter := testRegistry(t)
	ctx := context.Background()
	adapter.SetFaces("/photos/ana1.jpg", oneFace([]float32{1, 0, 0, 0}))
	adapter.SetFaces("/photos/ana2.jpg", oneFace([]float32{0, 1, 0, 0}))

	if _, _, err := reg.Register(ctx, "Ana", "/photos/ana1.jpg"); err != nil {
		t.Fatal(err)
	}
	_, replaced, err := reg.Register(ctx, "Ana", "/photos/ana2.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Error("second registration should report replaced")
	}

	got, err := reg.Get(ctx, "Ana")
	if err != nil {
		t.Fatal(err)
	}
	if got.Embedding[1] != 1 {
		t.Errorf("profile should hold the newest embedding: %v", got.Embedding)
	}
	all, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly 1 profile, got %d", len(all))
	}
}

func TestRegistry_RegisterNoFace(t *testing.T) {
	reg, adapter := testRegistry(t)
	adapter.SetFaces("/photos/landscape.jpg", nil)

	_, _, err := reg.Register(context.Background(), "Ana", "/photos/landscape.jpg")
	if !errors.Is(err, models.ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestRegistry_RegisterAmbiguous(t *testing.T) {
	reg, adapter := testRegistry(t)
	adapter.SetFaces("/photos/group.jpg", []embedding.DetectedFace{
		{BBox: models.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, Embedding: []float32{1, 0, 0, 0}},
		{BBox: models.BBox{X1: 60, Y1: 0, X2: 110, Y2: 50}, Embedding: []float32{0, 1, 0, 0}},
	})

	_, _, err := reg.Register(context.Background(), "Ana", "/photos/group.jpg")
	if !errors.Is(err, models.ErrAmbiguousFace) {
		t.Errorf("expected ErrAmbiguousFace, got %v", err)
	}
	// Nothing is stored on a failed registration.
	if _, err := reg.Get(context.Background(), "Ana"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_RegisterEmptyName(t *testing.T) {
	reg, _ := testRegistry(t)
	_, _, err := reg.Register(context.Background(), "   ", "/photos/x.jpg")
	if !errors.Is(err, models.ErrInput) {
		t.Errorf("expected ErrInput for empty name, got %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg, adapter := testRegistry(t)
	ctx := context.Background()
	adapter.SetFaces("/photos/bob.jpg", oneFace([]float32{0, 0, 1, 0}))

	if _, _, err := reg.Register(ctx, "Bob", "/photos/bob.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Remove(ctx, "BOB"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Remove(ctx, "Bob"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
