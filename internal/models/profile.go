package models

import "time"

// PersonProfile maps a registered name to the reference face embedding
// extracted from exactly one detected face in the registration image.
// Names are unique keys; re-registering a name overwrites the prior profile.
type PersonProfile struct {
	Name          string    `json:"name" db:"name"`
	Embedding     []float32 `json:"-" db:"-"`
	ImagePath     string    `json:"image_path" db:"image_path"`
	RegisteredAt  time.Time `json:"registered_at" db:"registered_at"`
	SchemaVersion int       `json:"schema_version" db:"schema_version"`
}
