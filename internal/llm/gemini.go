package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string        // default: gemini-2.0-flash-lite
	BaseURL string        // default: https://generativelanguage.googleapis.com
	Timeout time.Duration // default: 60s

	// Temperature and MaxOutputTokens are passed through when non-zero.
	Temperature     float64
	MaxOutputTokens int

	Breaker CircuitBreakerConfig
}

// GeminiClient talks to the Gemini generateContent REST endpoint. It is the
// only provider that accepts audio and video parts natively. Chat and
// Complete trip separate breakers.
type GeminiClient struct {
	cfg               GeminiConfig
	client            *http.Client
	circuitBreaker    *CircuitBreaker
	completionBreaker *CircuitBreaker
}

// NewGeminiClient creates a Gemini client with the given configuration.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-lite"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GeminiClient{
		cfg:               cfg,
		client:            &http.Client{Timeout: cfg.Timeout},
		circuitBreaker:    NewCircuitBreakerWithConfig("gemini", cfg.Breaker),
		completionBreaker: NewCircuitBreakerWithConfig("gemini-completion", cfg.Breaker),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		FinishReason string `json:"finishReason"`
		Content      struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Chat sends a multimodal turn and returns the model's text.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return guarded(ctx, c.circuitBreaker, c.Name(), func() (string, error) {
		return c.generate(ctx, c.buildRequest(req))
	})
}

// Complete sends a single-prompt completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return guarded(ctx, c.completionBreaker, c.Name(), func() (string, error) {
		return c.generate(ctx, c.buildRequest(ChatRequest{Text: prompt}))
	})
}

func (c *GeminiClient) buildRequest(req ChatRequest) geminiRequest {
	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	for _, m := range req.History {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	turn := geminiContent{Role: "user"}
	if req.Text != "" {
		turn.Parts = append(turn.Parts, geminiPart{Text: req.Text})
	}
	for _, p := range req.Media {
		turn.Parts = append(turn.Parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: p.MimeType,
			Data:     base64.StdEncoding.EncodeToString(p.Data),
		}})
	}
	body.Contents = append(body.Contents, turn)

	if c.cfg.Temperature != 0 {
		t := c.cfg.Temperature
		body.GenerationConfig.Temperature = &t
	}
	body.GenerationConfig.MaxOutputTokens = c.cfg.MaxOutputTokens
	if req.JSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	return body
}

func (c *GeminiClient) generate(ctx context.Context, body geminiRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	headers := map[string]string{"x-goog-api-key": c.cfg.APIKey}

	var resp geminiResponse
	if err := postJSON(ctx, c.client, c.Name(), url, headers, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.cfg.Model
}

// Name identifies the provider in logs and metrics.
func (c *GeminiClient) Name() string { return "gemini" }

var _ Provider = (*GeminiClient)(nil)
