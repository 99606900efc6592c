package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SidecarClient talks to the ML sidecar over HTTP. It implements Provider,
// and FaceProvider when the sidecar reports the face model as loaded.
type SidecarClient struct {
	baseURL    string
	dimensions int
	httpClient *http.Client
	hasFaces   bool
}

// NewSidecarClient creates a client for the sidecar at baseURL. dimensions is
// the embedding size the sidecar's model produces; timeout bounds each request
// (CPU CLIP inference is slow, so pass something generous).
func NewSidecarClient(baseURL string, dimensions int, timeout time.Duration) (*SidecarClient, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &SidecarClient{
		baseURL:    baseURL,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type healthResponse struct {
	Status string `json:"status"`
	Faces  bool   `json:"faces"`
}

// HealthCheck probes the sidecar and records whether face encoding is
// available. Face capability never changes after startup, so callers check
// FacesAvailable instead of probing per request.
func (c *SidecarClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	c.hasFaces = health.Faces
	return nil
}

// WaitForReady polls the sidecar health endpoint until it responds or timeout elapses.
func (c *SidecarClient) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := c.HealthCheck(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("ML sidecar not ready after %s", timeout)
}

// FacesAvailable reports whether the sidecar has the face model loaded.
// Only meaningful after a successful HealthCheck or WaitForReady.
func (c *SidecarClient) FacesAvailable() bool {
	return c.hasFaces
}

func (c *SidecarClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, respBody)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// EmbedImages encodes a batch of image paths. The sidecar substitutes null for
// paths it cannot read, which decodes to nil entries here; the result always
// has one entry per input path, in order.
func (c *SidecarClient) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.post(ctx, "/encode/image", map[string]any{"paths": paths}, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(paths) {
		return nil, fmt.Errorf("encode/image returned %d embeddings for %d paths", len(result.Embeddings), len(paths))
	}
	return result.Embeddings, nil
}

// EmbedText encodes a single text query.
func (c *SidecarClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.post(ctx, "/encode/text", map[string]any{"text": text}, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) != c.dimensions {
		return nil, fmt.Errorf("encode/text returned %d dims, expected %d", len(result.Embedding), c.dimensions)
	}
	return result.Embedding, nil
}

// EmbedFaces detects and encodes faces in each image. Returns ErrFaceSupport
// when the sidecar does not have the face model loaded.
func (c *SidecarClient) EmbedFaces(ctx context.Context, paths []string) ([][][]float32, error) {
	if !c.hasFaces {
		return nil, ErrFaceSupport
	}
	if len(paths) == 0 {
		return nil, nil
	}
	var result struct {
		Faces [][][]float32 `json:"faces"`
	}
	if err := c.post(ctx, "/encode/faces", map[string]any{"paths": paths}, &result); err != nil {
		return nil, err
	}
	if len(result.Faces) != len(paths) {
		return nil, fmt.Errorf("encode/faces returned %d entries for %d paths", len(result.Faces), len(paths))
	}
	return result.Faces, nil
}

// Dimensions returns the embedding dimension fixed at construction.
func (c *SidecarClient) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the sidecar owns the model lifecycle.
func (c *SidecarClient) Close() error {
	return nil
}
