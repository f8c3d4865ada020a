package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/shashin/internal/models"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_ReplaceIndex(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	manifest := models.IndexManifest{
		Mode:          models.ModeFace,
		Dimensions:    4,
		SchemaVersion: models.SchemaVersion,
		EntryCount:    2,
		BuiltAt:       time.Now().UTC(),
	}
	records := []*Record{
		{ID: "face:1", ImagePath: "/photos/a.jpg", BBox: &models.BBox{X1: 10, Y1: 20, X2: 110, Y2: 140}, DetScore: 0.9},
		{ID: "face:2", ImagePath: "/photos/b.jpg", BBox: &models.BBox{X1: 5, Y1: 5, X2: 60, Y2: 70}, DetScore: 0.8},
	}
	if err := store.ReplaceIndex(ctx, manifest, records); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRecord(ctx, "face:1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ImagePath != "/photos/a.jpg" || got.BBox == nil || got.BBox.X2 != 110 {
		t.Errorf("unexpected record: %+v", got)
	}

	list, err := store.ListRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "face:1" || list[1].ID != "face:2" {
		t.Errorf("records not in build order: %+v", list)
	}

	m, err := store.Manifest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode != models.ModeFace || m.EntryCount != 2 {
		t.Errorf("unexpected manifest: %+v", m)
	}

	// A second build replaces everything from the first.
	manifest.Mode = models.ModeFullImage
	manifest.EntryCount = 1
	if err := store.ReplaceIndex(ctx, manifest, []*Record{
		{ID: "image:1", ImagePath: "/photos/c.jpg"},
	}); err != nil {
		t.Fatal(err)
	}
	n, err := store.CountRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 record after replace, got %d", n)
	}
	if _, err := store.GetRecord(ctx, "face:1"); err == nil {
		t.Error("old record survived the replace")
	}
	got, err = store.GetRecord(ctx, "image:1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BBox != nil {
		t.Error("full_image record should have nil bbox")
	}
}

func TestSQLiteStore_ManifestBeforeBuild(t *testing.T) {
	store := testStore(t)
	if _, err := store.Manifest(context.Background()); !errors.Is(err, models.ErrConfig) {
		t.Errorf("expected ErrConfig before any build, got %v", err)
	}
}

func TestSQLiteStore_Profiles(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	profile := &models.PersonProfile{
		Name:          "Ana",
		Embedding:     []float32{0.5, 0.5, 0.5, 0.5},
		ImagePath:     "/photos/ana.jpg",
		RegisteredAt:  time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
	}
	replaced, err := store.PutProfile(ctx, profile)
	if err != nil {
		t.Fatal(err)
	}
	if replaced {
		t.Error("first put should not report replaced")
	}

	got, err := store.GetProfile(ctx, "Ana")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Ana" || got.ImagePath != "/photos/ana.jpg" {
		t.Errorf("unexpected profile: %+v", got)
	}
	if len(got.Embedding) != 4 || got.Embedding[0] != 0.5 {
		t.Errorf("embedding not round-tripped: %v", got.Embedding)
	}

	// Lookup is case-insensitive.
	if _, err := store.GetProfile(ctx, "ana"); err != nil {
		t.Errorf("case-insensitive lookup failed: %v", err)
	}

	// Overwrite with a different casing replaces the same profile.
	update := &models.PersonProfile{
		Name:          "ANA",
		Embedding:     []float32{1, 0, 0, 0},
		ImagePath:     "/photos/ana2.jpg",
		RegisteredAt:  time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
	}
	replaced, err = store.PutProfile(ctx, update)
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Error("overwrite should report replaced")
	}
	all, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 profile after overwrite, got %d", len(all))
	}
	if all[0].ImagePath != "/photos/ana2.jpg" {
		t.Errorf("overwrite did not take: %+v", all[0])
	}

	if err := store.DeleteProfile(ctx, "ana"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetProfile(ctx, "Ana"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteProfile(ctx, "Ana"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSQLiteStore_GetProfileNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.GetProfile(context.Background(), "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := BytesToEmbedding(EmbeddingToBytes(in), 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("position %d: expected %f, got %f", i, in[i], out[i])
		}
	}

	if _, err := BytesToEmbedding(EmbeddingToBytes(in), 8); !errors.Is(err, models.ErrConfig) {
		t.Errorf("expected ErrConfig for dimension mismatch, got %v", err)
	}
}
