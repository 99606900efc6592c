//go:build cgo
// +build cgo

// ONNX-based local visual encoder (requires CGO and the onnxruntime library).
package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/mitsuke/pkg/utils"
)

// ONNXProvider runs an exported CLIP visual encoder locally. It embeds images
// only; EmbedText returns ErrTextSupport since the text tower stays in the
// sidecar. Sessions run one image at a time behind a mutex, so batching is a
// loop here rather than a wider tensor.
type ONNXProvider struct {
	session      *ort.AdvancedSession
	dimensions   int
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXProvider creates a local visual encoder from an exported model file.
// InitializeEnvironment is called if not already done.
func NewONNXProvider(modelPath string, dimensions int) (*ONNXProvider, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, 3*inputSize*inputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"image"},
		[]string{"embedding"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXProvider{
		session:      session,
		dimensions:   dimensions,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// EmbedImages encodes each path through the visual encoder. Unreadable or
// undecodable paths yield nil entries; inference errors fail the batch.
func (p *ONNXProvider) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tensor, err := loadImageTensor(path)
		if err != nil {
			continue
		}
		emb, err := p.run(tensor)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		out[i] = emb
	}
	return out, nil
}

func (p *ONNXProvider) run(tensor []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.inputTensor.GetData(), tensor)
	if err := p.session.Run(); err != nil {
		return nil, err
	}
	emb := make([]float32, p.dimensions)
	copy(emb, p.outputTensor.GetData())
	return utils.Normalize(emb), nil
}

// EmbedText always returns ErrTextSupport; this provider has no text tower.
func (p *ONNXProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrTextSupport
}

// Dimensions returns the embedding dimension fixed at construction.
func (p *ONNXProvider) Dimensions() int {
	return p.dimensions
}

// Close destroys the session and tensors.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
		p.inputTensor = nil
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
		p.outputTensor = nil
	}
	return nil
}
