package ai

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Gemini talks to the Google generateContent API.
type Gemini struct {
	name     string
	endpoint string
	model    string
	apiKey   string
	client   HTTPClient
}

var _ TextProvider = (*Gemini)(nil)

// NewGemini creates an adapter. An empty endpoint uses the public API.
func NewGemini(name, endpoint, model, apiKey string, timeout time.Duration) *Gemini {
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com"
	}
	return &Gemini{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   newHTTPClient(timeout),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Name implements TextProvider.
func (c *Gemini) Name() string { return c.name }

// Generate implements TextProvider.
func (c *Gemini) Generate(ctx context.Context, system, user string) (string, error) {
	endpoint := c.endpoint + "/v1beta/models/" + url.PathEscape(c.model) + ":generateContent"

	var payload geminiRequest
	payload.SystemInstruction = geminiContent{Parts: []geminiPart{{Text: system}}}
	payload.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}}
	payload.GenerationConfig.Temperature = 0.4
	payload.GenerationConfig.ResponseMimeType = "application/json"

	var resp geminiResponse
	headers := map[string]string{"x-goog-api-key": c.apiKey}
	if err := postJSON(ctx, c.client, c.name, endpoint, headers, payload, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", &ProviderError{Provider: c.name, Err: errors.New("empty candidate")}
	}
	return sb.String(), nil
}
