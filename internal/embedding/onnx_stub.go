//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXAdapter stub type when built without CGO (see onnx.go for real implementation).
type ONNXAdapter struct{}

// NewONNXAdapter returns an error when built without CGO (ONNX not available).
func NewONNXAdapter(_ ONNXConfig) (*ONNXAdapter, error) {
	return nil, errors.New("ONNX adapter requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
