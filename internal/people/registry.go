// Package people implements person profile registration and lookup.
package people

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
)

// Registry manages person profiles. Registration runs face detection on the
// reference image and requires exactly one face; the embedding of that face
// becomes the profile. Writes are serialized so concurrent registrations of
// the same name resolve to a clean last-write-wins.
type Registry struct {
	store   storage.Store
	adapter embedding.Adapter
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewRegistry creates a profile registry backed by the given store and adapter.
func NewRegistry(store storage.Store, adapter embedding.Adapter, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		adapter: adapter,
		logger:  logger,
	}
}

// Register creates or overwrites the profile for name from the image at
// imagePath. The image must contain exactly one detectable face: zero faces
// is ErrNoFaceDetected, more than one is ErrAmbiguousFace. Returns the stored
// profile and whether an existing profile was replaced.
func (r *Registry) Register(ctx context.Context, name, imagePath string) (*models.PersonProfile, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: person name must not be empty", models.ErrInput)
	}
	if imagePath == "" {
		return nil, false, fmt.Errorf("%w: image path must not be empty", models.ErrInput)
	}

	faces, err := r.adapter.DetectFaces(ctx, imagePath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to detect faces in %s: %w", imagePath, err)
	}
	if len(faces) == 0 {
		return nil, false, fmt.Errorf("%w: %s", models.ErrNoFaceDetected, imagePath)
	}
	if len(faces) > 1 {
		return nil, false, fmt.Errorf("%w: %s contains %d faces, registration requires exactly one",
			models.ErrAmbiguousFace, imagePath, len(faces))
	}

	profile := &models.PersonProfile{
		Name:          name,
		Embedding:     faces[0].Embedding,
		ImagePath:     imagePath,
		RegisteredAt:  time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
	}

	r.mu.Lock()
	replaced, err := r.store.PutProfile(ctx, profile)
	r.mu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to store profile for %s: %w", name, err)
	}

	r.logger.Info("registered person",
		zap.String("name", name),
		zap.String("image", imagePath),
		zap.Bool("replaced", replaced))
	return profile, replaced, nil
}

// Get returns the profile for name (case-insensitive).
func (r *Registry) Get(ctx context.Context, name string) (*models.PersonProfile, error) {
	return r.store.GetProfile(ctx, name)
}

// List returns all registered profiles ordered by name.
func (r *Registry) List(ctx context.Context) ([]*models.PersonProfile, error) {
	return r.store.ListProfiles(ctx)
}

// Remove deletes the profile for name (case-insensitive).
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.DeleteProfile(ctx, name); err != nil {
		return err
	}
	r.logger.Info("removed person", zap.String("name", name))
	return nil
}
