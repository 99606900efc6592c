// Package embedding defines the embedding provider boundary and its implementations.
package embedding

import (
	"context"
	"errors"
)

// ErrFaceSupport is returned when face encoding is requested but the
// configured provider does not offer it. Resolved once at startup from the
// sidecar health response, never probed at call time.
var ErrFaceSupport = errors.New("face encoding not available from provider")

// ErrTextSupport is returned by image-only providers for text queries.
var ErrTextSupport = errors.New("text encoding not available from provider")

// Provider produces CLIP embeddings for images and text.
//
// EmbedImages is batched and order-preserving: the result always has one entry
// per input path, and an unreadable or undecodable path yields a nil entry
// rather than failing the batch. All returned vectors are unit-L2-normalized
// with length Dimensions(), fixed at provider construction.
type Provider interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// FaceProvider detects and encodes faces. One image yields zero or more
// 128-dim encodings; failure on a single path yields an empty entry for it.
type FaceProvider interface {
	EmbedFaces(ctx context.Context, paths []string) ([][][]float32, error)
}
