package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockProvider is a deterministic provider for tests. Embeddings are derived
// from the input hash so the same path or text always gets the same unit
// vector. Face encodings per path can be set explicitly; unset paths have no
// faces.
type MockProvider struct {
	dimensions int

	mu         sync.Mutex
	imageCalls int
	faces      map[string][][]float32
	fail       map[string]bool
}

// NewMockProvider returns a provider producing deterministic embeddings of the
// given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockProvider{
		dimensions: dimensions,
		faces:      make(map[string][][]float32),
		fail:       make(map[string]bool),
	}
}

// SetFaces sets the face encodings EmbedFaces returns for path.
func (m *MockProvider) SetFaces(path string, encodings [][]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[path] = encodings
}

// SetUnreadable makes EmbedImages/EmbedFaces treat path as undecodable
// (nil/empty entry), like a corrupt file.
func (m *MockProvider) SetUnreadable(path string, unreadable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[path] = unreadable
}

// ImageCalls returns how many individual images have been embedded,
// counting across batches. Used to assert cache behavior.
func (m *MockProvider) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

func (m *MockProvider) vectorFor(s string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	seed := h.Sum32()
	emb := make([]float32, m.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(seed)*float64(i+1))*0.1 + 0.01)
	}
	// Normalize to unit length for cosine similarity
	var sum float64
	for _, v := range emb {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := 1 / math.Sqrt(sum)
		for i := range emb {
			emb[i] = float32(float64(emb[i]) * norm)
		}
	}
	return emb
}

// EmbedImages returns one deterministic embedding per path, nil for paths
// marked unreadable.
func (m *MockProvider) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, len(paths))
	for i, p := range paths {
		m.imageCalls++
		if m.fail[p] {
			continue
		}
		out[i] = m.vectorFor(p)
	}
	return out, nil
}

// EmbedText returns a deterministic embedding for text.
func (m *MockProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return m.vectorFor("text:" + text), nil
}

// EmbedFaces returns the encodings registered via SetFaces; paths without
// registered faces yield an empty entry.
func (m *MockProvider) EmbedFaces(ctx context.Context, paths []string) ([][][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][][]float32, len(paths))
	for i, p := range paths {
		m.imageCalls++
		if m.fail[p] {
			continue
		}
		out[i] = m.faces[p]
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (m *MockProvider) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockProvider.
func (m *MockProvider) Close() error {
	return nil
}
