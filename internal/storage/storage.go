// Package storage defines the persistence interface for index metadata and
// person profiles.
package storage

import (
	"context"

	"github.com/hyperjump/shashin/internal/models"
)

// Record is a metadata row joining a vector index entry to its source image.
// It is the resolution target for every vector search hit.
type Record struct {
	ID        string
	ImagePath string
	BBox      *models.BBox // nil in full_image mode
	DetScore  float64
}

// Store defines metadata and profile persistence operations. Index metadata
// is replaced wholesale by builds and read-only during query serving;
// profiles are written by registration at any time.
type Store interface {
	// ReplaceIndex atomically replaces all index records and the manifest
	// with the output of a completed build.
	ReplaceIndex(ctx context.Context, manifest models.IndexManifest, records []*Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
	CountRecords(ctx context.Context) (int64, error)
	// Manifest returns the manifest of the last completed build, or a
	// configuration error if no build has been persisted.
	Manifest(ctx context.Context) (*models.IndexManifest, error)

	// PutProfile inserts or overwrites a profile by name (case-insensitive).
	// Returns whether an existing profile was replaced.
	PutProfile(ctx context.Context, profile *models.PersonProfile) (replaced bool, err error)
	GetProfile(ctx context.Context, name string) (*models.PersonProfile, error)
	ListProfiles(ctx context.Context) ([]*models.PersonProfile, error)
	DeleteProfile(ctx context.Context, name string) error

	Close() error
}
