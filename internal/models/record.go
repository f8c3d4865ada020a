// Package models defines core data structures for index records, person
// profiles, query results, and the error taxonomy.
package models

import (
	"fmt"
	"time"
)

// SchemaVersion is written into every persisted artifact so format evolution
// is explicit rather than inferred from key presence.
const SchemaVersion = 1

// IndexMode selects what the index stores: one embedding per detected face,
// or one embedding per whole image.
type IndexMode string

const (
	// ModeFace stores one embedding per detected face. Enables identity search.
	ModeFace IndexMode = "face"
	// ModeFullImage stores one embedding per image. Enables text-to-image
	// semantic search but not per-person face matching.
	ModeFullImage IndexMode = "full_image"
)

// Validate returns an error if the mode is not a known index mode.
func (m IndexMode) Validate() error {
	switch m {
	case ModeFace, ModeFullImage:
		return nil
	}
	return fmt.Errorf("%w: unknown index mode %q", ErrConfig, string(m))
}

// BBox is a face bounding box in absolute pixel coordinates.
type BBox struct {
	X1 int `json:"x1" db:"x1"`
	Y1 int `json:"y1" db:"y1"`
	X2 int `json:"x2" db:"x2"`
	Y2 int `json:"y2" db:"y2"`
}

// Area returns the box area in pixels. Degenerate boxes have area 0.
func (b BBox) Area() int {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// String renders the box as "x1,y1,x2,y2". Used in record IDs.
func (b BBox) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", b.X1, b.Y1, b.X2, b.Y2)
}

// IndexManifest describes a persisted index build. Dimensions must match the
// active encoder; mode gates which query shapes the index supports.
type IndexManifest struct {
	Mode          IndexMode `json:"mode"`
	Dimensions    int       `json:"dimensions"`
	SchemaVersion int       `json:"schema_version"`
	EntryCount    int       `json:"entry_count"`
	BuiltAt       time.Time `json:"built_at"`
}

// BuildReport summarizes an index build run.
type BuildReport struct {
	RunID          string        `json:"run_id"`
	Mode           IndexMode     `json:"mode"`
	ProcessedCount int           `json:"processed_count"`
	SkippedCount   int           `json:"skipped_count"`
	EntryCount     int           `json:"entry_count"`
	Duration       time.Duration `json:"-"`
	DurationMillis int64         `json:"duration_ms"`
}
