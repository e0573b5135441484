package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaClient handles communication with the Ollama API for local inference.
// Chat and Complete each run behind their own circuit breaker, so failing
// background completions cannot open the circuit for live turns.
type OllamaClient struct {
	baseURL           string
	client            *http.Client
	circuitBreaker    *CircuitBreaker
	completionBreaker *CircuitBreaker
	model             string
	timeout           time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use (default: llava:7b, which accepts images)
	Model string

	// Timeout is the request timeout duration (default: 60s)
	Timeout time.Duration

	Breaker CircuitBreakerConfig
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatRequest is the request body for /api/chat.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllamaClient creates a new Ollama client with the given configuration.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "llava:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaClient{
		baseURL:           strings.TrimRight(config.BaseURL, "/"),
		client:            &http.Client{Timeout: config.Timeout},
		circuitBreaker:    NewCircuitBreakerWithConfig("ollama", config.Breaker),
		completionBreaker: NewCircuitBreakerWithConfig("ollama-completion", config.Breaker),
		model:             config.Model,
		timeout:           config.Timeout,
	}
}

// Chat sends a chat turn to Ollama. Only image media is accepted.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body, err := c.buildRequest(req)
	if err != nil {
		return "", err
	}
	return guarded(ctx, c.circuitBreaker, c.Name(), func() (string, error) {
		return c.chat(ctx, body)
	})
}

// Complete sends a completion request to Ollama and returns the response text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := c.buildRequest(ChatRequest{Text: prompt})
	if err != nil {
		return "", err
	}
	return guarded(ctx, c.completionBreaker, c.Name(), func() (string, error) {
		return c.chat(ctx, body)
	})
}

func (c *OllamaClient) buildRequest(req ChatRequest) (ollamaChatRequest, error) {
	body := ollamaChatRequest{Model: c.model, Stream: false}
	if req.JSON {
		body.Format = "json"
	}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		body.Messages = append(body.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	turn := ollamaMessage{Role: "user", Content: req.Text}
	for _, p := range req.Media {
		if !isImage(p) {
			return body, fmt.Errorf("%w: ollama %s", ErrUnsupportedMedia, p.MimeType)
		}
		turn.Images = append(turn.Images, base64.StdEncoding.EncodeToString(p.Data))
	}
	body.Messages = append(body.Messages, turn)
	return body, nil
}

func (c *OllamaClient) chat(ctx context.Context, body ollamaChatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData ollamaChatResponse
	if err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/api/chat", nil, body, &respData); err != nil {
		return "", err
	}
	return respData.Message.Content, nil
}

// HealthCheck verifies that Ollama is reachable by checking /api/version.
// It bypasses the circuit breaker.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(b))
	}

	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Name identifies the provider in logs and metrics.
func (c *OllamaClient) Name() string { return "ollama" }

var _ Provider = (*OllamaClient)(nil)
