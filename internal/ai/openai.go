package ai

import (
	"context"
	"errors"
	"strings"
	"time"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, Mistral, OpenRouter, local gateways).
type OpenAI struct {
	name     string
	endpoint string
	model    string
	apiKey   string
	client   HTTPClient
}

var _ TextProvider = (*OpenAI)(nil)

// NewOpenAI creates an adapter. endpoint is the API base, e.g. https://api.openai.com/v1.
func NewOpenAI(name, endpoint, model, apiKey string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   newHTTPClient(timeout),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Name implements TextProvider.
func (c *OpenAI) Name() string { return c.name }

// Generate implements TextProvider.
func (c *OpenAI) Generate(ctx context.Context, system, user string) (string, error) {
	url := c.endpoint + "/chat/completions"
	if !strings.Contains(c.endpoint, "/v1") {
		url = c.endpoint + "/v1/chat/completions"
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.4,
	}
	var resp chatResponse
	if err := postJSON(ctx, c.client, c.name, url, headers, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ProviderError{Provider: c.name, Err: errors.New("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}
