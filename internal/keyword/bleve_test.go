package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func testIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBleveIndex_SearchByFilename(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	paths := []string{
		"/photos/2024/birthday party.jpg",
		"/photos/2024/beach sunset.jpg",
		"/photos/2023/birthday cake.jpg",
	}
	for _, p := range paths {
		if err := idx.Index(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 docs, got %d", n)
	}

	results, err := idx.Search(ctx, "birthday", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 birthday hits, got %d", len(results))
	}
	for _, r := range results {
		if r.Path != paths[0] && r.Path != paths[2] {
			t.Errorf("unexpected hit: %s", r.Path)
		}
	}

	results, err = idx.Search(ctx, "sunset", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Path != paths[1] {
		t.Errorf("unexpected sunset results: %+v", results)
	}
}

func TestBleveIndex_DeleteAndReset(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	if err := idx.Index(ctx, "/photos/a.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, "/photos/b.jpg"); err != nil {
		t.Fatal(err)
	}

	if err := idx.Delete(ctx, "/photos/a.jpg"); err != nil {
		t.Fatal(err)
	}
	n, _ := idx.DocCount()
	if n != 1 {
		t.Errorf("expected 1 doc after delete, got %d", n)
	}

	if err := idx.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ = idx.DocCount()
	if n != 0 {
		t.Errorf("expected empty index after reset, got %d", n)
	}
}

func TestBleveIndex_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(context.Background(), "/photos/a.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	n, err := reopened.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 doc after reopen, got %d", n)
	}
}
