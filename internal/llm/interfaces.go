package llm

import (
	"context"
	"errors"
)

// ErrUnsupportedMedia is returned when a provider cannot accept a media part.
var ErrUnsupportedMedia = errors.New("llm: provider does not support this media type")

// Message is one prior exchange in a chat history. Role is "user" or
// "assistant".
type Message struct {
	Role    string
	Content string
}

// Part is an opaque media attachment forwarded to the model as-is.
type Part struct {
	MimeType string
	Data     []byte
}

// ChatRequest is a single multimodal generation call.
type ChatRequest struct {
	System  string
	History []Message
	Text    string
	Media   []Part

	// JSON asks the provider for a JSON-only response where supported.
	JSON bool
}

// TextGenerator is the interface for single-prompt text completion. The
// compactors use it to fuse memories and summarise the conversation.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// ChatGenerator produces one reply for a multimodal chat turn.
type ChatGenerator interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	GetModel() string
}

// Provider is a backend that supports both call styles.
type Provider interface {
	TextGenerator
	ChatGenerator
	Name() string
}
