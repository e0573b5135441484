// Package agent turns one conversation turn into a structured reply from
// the configured model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/robi/internal/expression"
	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/memory"
)

// ErrInvalidReply is returned when the model's output is not a usable reply.
var ErrInvalidReply = errors.New("agent: invalid reply")

// maxEmojis caps the topic emojis kept from a reply.
const maxEmojis = 4

// MemoryProposal is a fact the model asks the robot to remember.
type MemoryProposal struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

// Reply is the structured result of one turn.
type Reply struct {
	Emotion      string              `json:"emotion"`
	Emojis       []string            `json:"emojis"`
	Actions      []expression.Action `json:"actions"`
	ResponseText string              `json:"response_text"`
	Memories     []MemoryProposal    `json:"memories"`
	PersonName   string              `json:"person_name"`
	MediaSummary string              `json:"media_summary"`
}

// Turn is everything the model sees for one request.
type Turn struct {
	PersonID    string
	Text        string
	Media       []llm.Part
	History     []llm.Message
	Memory      *memory.Context
	ExtractName bool
}

// Agent calls the chat model with the robot's system prompt.
type Agent struct {
	gen llm.ChatGenerator
}

// New creates an Agent backed by gen.
func New(gen llm.ChatGenerator) *Agent {
	return &Agent{gen: gen}
}

// Generate runs one turn through the model and parses its reply.
func (a *Agent) Generate(ctx context.Context, turn Turn) (*Reply, error) {
	pc := llm.PromptContext{
		PersonID:    turn.PersonID,
		ExtractName: turn.ExtractName,
		HasMedia:    len(turn.Media) > 0,
	}
	if turn.Memory != nil {
		pc.General = turn.Memory.General
		pc.Person = turn.Memory.Person
		pc.Zone = turn.Memory.Zone
	}

	text := turn.Text
	if text == "" && len(turn.Media) > 0 {
		text = "(the user sent media without text)"
	}

	raw, err := a.gen.Chat(ctx, llm.ChatRequest{
		System:  llm.SystemPrompt(pc),
		History: turn.History,
		Text:    text,
		Media:   turn.Media,
		JSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: generation failed: %w", err)
	}
	return ParseReply(raw)
}

// ParseReply decodes a model response into a Reply. Surrounding prose and
// markdown fences are tolerated. The emotion is normalised, blank emojis are
// dropped and at most four are kept.
func ParseReply(raw string) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}

	r.Emotion = expression.NormalizeEmotion(r.Emotion)
	r.ResponseText = strings.TrimSpace(r.ResponseText)
	r.PersonName = strings.TrimSpace(r.PersonName)
	r.MediaSummary = strings.TrimSpace(r.MediaSummary)

	emojis := r.Emojis[:0]
	for _, e := range r.Emojis {
		if e = strings.TrimSpace(e); e != "" {
			emojis = append(emojis, strings.ToUpper(e))
		}
	}
	if len(emojis) > maxEmojis {
		emojis = emojis[:maxEmojis]
	}
	r.Emojis = emojis

	return &r, nil
}
