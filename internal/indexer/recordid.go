// Package indexer builds the photo embedding index: enumeration, embedding,
// and atomic persistence into the vector index, metadata store, and keyword
// index.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/hyperjump/shashin/internal/models"
)

const (
	facePrefix  = "face:"
	imagePrefix = "image:"
)

// FaceRecordID returns a stable record ID for a detected face. The ID is
// derived from the image path and the bounding box, so the same face in the
// same image gets the same ID regardless of batch boundaries or worker
// scheduling.
func FaceRecordID(imagePath string, bbox models.BBox) string {
	normalized := filepath.Clean(imagePath)
	hash := sha256.Sum256([]byte(normalized + "|" + bbox.String()))
	return facePrefix + hex.EncodeToString(hash[:])
}

// ImageRecordID returns a stable record ID for a whole-image entry.
func ImageRecordID(imagePath string) string {
	normalized := filepath.Clean(imagePath)
	hash := sha256.Sum256([]byte(normalized))
	return imagePrefix + hex.EncodeToString(hash[:])
}
