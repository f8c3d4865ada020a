// Package keyword provides filename keyword search over indexed photos.
package keyword

import "context"

// PhotoDoc is the indexed representation of one photo: its filename (without
// directory) and the full path. Filenames carry most of the signal, so they
// are boosted at query time.
type PhotoDoc struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Index defines filename keyword search operations. Documents are keyed by
// image path; a rebuild resets the index wholesale.
type Index interface {
	Index(ctx context.Context, path string) error
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	Delete(ctx context.Context, path string) error
	// Reset removes all documents, preparing the index for a rebuild.
	Reset(ctx context.Context) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	Path  string
	Score float64
}
