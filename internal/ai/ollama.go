package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Ollama talks to a local Ollama server's /api/chat endpoint.
type Ollama struct {
	name     string
	endpoint string
	model    string
	client   HTTPClient
}

var _ TextProvider = (*Ollama)(nil)

// NewOllama creates an adapter. An empty endpoint uses http://localhost:11434.
func NewOllama(name, endpoint, model string, timeout time.Duration) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Ollama{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   newHTTPClient(timeout),
	}
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// Name implements TextProvider.
func (c *Ollama) Name() string { return c.name }

// Generate implements TextProvider.
func (c *Ollama) Generate(ctx context.Context, system, user string) (string, error) {
	payload := ollamaRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Format: "json",
	}
	var resp ollamaResponse
	if err := postJSON(ctx, c.client, c.name, c.endpoint+"/api/chat", nil, payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &ProviderError{Provider: c.name, Err: errors.New(resp.Error)}
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", &ProviderError{Provider: c.name, Err: errors.New("empty message")}
	}
	return resp.Message.Content, nil
}
