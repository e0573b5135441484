package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o-mini
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 60s

	Temperature float64
	Breaker     CircuitBreakerConfig
}

// OpenAIClient implements Provider using the OpenAI chat completions API.
// Images are sent as data URLs; audio and video are not accepted.
type OpenAIClient struct {
	cfg               OpenAIConfig
	client            *http.Client
	circuitBreaker    *CircuitBreaker
	completionBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg:               cfg,
		client:            &http.Client{Timeout: cfg.Timeout},
		circuitBreaker:    NewCircuitBreakerWithConfig("openai", cfg.Breaker),
		completionBreaker: NewCircuitBreakerWithConfig("openai-completion", cfg.Breaker),
	}
}

// openAIChatRequest is the request body for POST /v1/chat/completions.
type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIFormat       `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

// Content is either a string or a list of openAIContentPart.
type openAIChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

// openAIChatResponse is the response body from POST /v1/chat/completions.
type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends a chat turn to OpenAI and returns the response text.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return "", err
	}
	return guarded(ctx, c.circuitBreaker, c.Name(), func() (string, error) {
		return c.complete(ctx, body)
	})
}

// Complete sends a single-turn completion to OpenAI and returns the response text.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := c.buildRequest(ChatRequest{Text: prompt})
	if err != nil {
		return "", err
	}
	return guarded(ctx, c.completionBreaker, c.Name(), func() (string, error) {
		return c.complete(ctx, body)
	})
}

func (c *OpenAIClient) buildRequest(req ChatRequest) (openAIChatRequest, error) {
	body := openAIChatRequest{Model: c.cfg.Model, Temperature: c.cfg.Temperature}
	if req.JSON {
		body.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		body.Messages = append(body.Messages, openAIChatMessage{Role: m.Role, Content: m.Content})
	}

	if len(req.Media) == 0 {
		body.Messages = append(body.Messages, openAIChatMessage{Role: "user", Content: req.Text})
		return body, nil
	}

	parts := []openAIContentPart{}
	if req.Text != "" {
		parts = append(parts, openAIContentPart{Type: "text", Text: req.Text})
	}
	for _, p := range req.Media {
		if !isImage(p) {
			return body, fmt.Errorf("%w: openai %s", ErrUnsupportedMedia, p.MimeType)
		}
		url := "data:" + p.MimeType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
		parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
	}
	body.Messages = append(body.Messages, openAIChatMessage{Role: "user", Content: parts})
	return body, nil
}

func (c *OpenAIClient) complete(ctx context.Context, body openAIChatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var respData openAIChatResponse
	if err := postJSON(ctx, c.client, c.Name(), c.cfg.BaseURL+"/v1/chat/completions", headers, body, &respData); err != nil {
		return "", err
	}
	if len(respData.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return respData.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Name identifies the provider in logs and metrics.
func (c *OpenAIClient) Name() string { return "openai" }

var _ Provider = (*OpenAIClient)(nil)
