//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXProvider stub type when built without CGO (see onnx.go for the real implementation).
type ONNXProvider struct{}

// NewONNXProvider returns an error when built without CGO (ONNX not available).
func NewONNXProvider(_ string, _ int) (*ONNXProvider, error) {
	return nil, errors.New("ONNX provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (p *ONNXProvider) EmbedImages(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("ONNX provider not available")
}

func (p *ONNXProvider) EmbedText(context.Context, string) ([]float32, error) {
	return nil, ErrTextSupport
}

func (p *ONNXProvider) Dimensions() int { return 0 }

func (p *ONNXProvider) Close() error { return nil }
