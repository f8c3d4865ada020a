package models

import "errors"

// Error taxonomy for the retrieval engine. Call sites wrap these with
// fmt.Errorf("...: %w", Err...) and callers classify with errors.Is.
var (
	// ErrInput marks an unreadable or corrupt image. During index builds it is
	// caught per image and counted; at query time it excludes one candidate.
	ErrInput = errors.New("unreadable input")

	// ErrNoFaceDetected is returned by registration when the image contains no face.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrAmbiguousFace is returned by registration when the image contains more
	// than one face. Registration requires exactly one.
	ErrAmbiguousFace = errors.New("multiple faces detected")

	// ErrNotFound is returned for an unregistered person name. A registered name
	// with zero matching photos is an empty result list, not this error.
	ErrNotFound = errors.New("person not registered")

	// ErrConfig marks dimension mismatches, invalid fusion weights, and
	// missing or corrupt persisted indices. Always fatal, never degraded.
	ErrConfig = errors.New("configuration error")

	// ErrUnsupportedMode is returned when a query shape requires an index mode
	// the loaded index was not built with (e.g. activity search on full_image).
	ErrUnsupportedMode = errors.New("unsupported index mode")

	// ErrModel marks encoder or detector failures unrelated to input validity.
	ErrModel = errors.New("model inference failed")
)
