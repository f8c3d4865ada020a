package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(file, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "g.bin"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	total, err := DiskUsageBytes(file, sub)
	if err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Errorf("expected 150 bytes, got %d", total)
	}

	// Missing paths are skipped, empty paths ignored.
	total, err = DiskUsageBytes(file, filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 100 {
		t.Errorf("expected 100 bytes, got %d", total)
	}
}
