package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hyperjump/shashin/internal/models"
)

// EmbeddingToBytes encodes a float32 vector as little-endian bytes for BLOB storage.
func EmbeddingToBytes(embedding []float32) []byte {
	out := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

// BytesToEmbedding decodes a BLOB back to a float32 vector and checks the
// expected dimension. A stored vector of the wrong size means the database
// was written by an encoder with a different dimension.
func BytesToEmbedding(data []byte, dimensions int) ([]float32, error) {
	if len(data) != dimensions*4 {
		return nil, fmt.Errorf("%w: stored embedding has %d bytes, expected %d (dimension %d)",
			models.ErrConfig, len(data), dimensions*4, dimensions)
	}
	out := make([]float32, dimensions)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return out, nil
}
