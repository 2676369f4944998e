package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ImageRequest describes the article an image is generated for.
type ImageRequest struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// ImageGenerator returns an image URL for an article, or "" when none was produced.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ImageClient calls an external image generation endpoint.
type ImageClient struct {
	endpoint string
	client   HTTPClient
}

// NewImageClient creates an ImageClient posting to endpoint.
func NewImageClient(endpoint string, client HTTPClient) *ImageClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ImageClient{endpoint: endpoint, client: client}
}

// GenerateImage implements ImageGenerator.
func (c *ImageClient) GenerateImage(ctx context.Context, in ImageRequest) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("image service error %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		URL *string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if out.URL == nil {
		return "", nil
	}
	return *out.URL, nil
}
