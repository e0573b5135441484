// Package llm provides model integration for the robot: a multimodal chat
// call for conversation turns, single-prompt completion for compaction, the
// prompt templates for both, and tolerant JSON extraction for replies. It
// works with Gemini, OpenAI and Ollama backends.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/robi/internal/expression"
	"github.com/scrypster/robi/pkg/types"
)

// PromptContext is what the conversation system prompt is built from.
type PromptContext struct {
	General []*types.Memory
	Person  []*types.Memory
	Zone    []*types.Memory

	// PersonID is the person in front of the robot, empty when unknown.
	PersonID string

	// ExtractName asks the model to pull the speaker's name out of the turn
	// because a face embedding is waiting to be registered.
	ExtractName bool

	// HasMedia asks for a media_summary of the attached audio/image/video.
	HasMedia bool
}

const conversationRules = `You are Robi, a friendly home robot. You remember the people you talk to and adapt to their context and preferences.

OUTPUT: ONLY one valid JSON object. NO markdown. NO code blocks. NO backticks.

REQUIRED JSON STRUCTURE:
{
  "emotion": "<one tag>",
  "emojis": ["<OpenMoji codepoint>", ...],
  "actions": [],
  "response_text": "<what you say out loud>",
  "memories": [{"type": "<memory type>", "content": "<fact>", "importance": <1-10>}],
  "person_name": "<name or empty>",
  "media_summary": "<summary or empty>"
}

FIELD RULES:
- emotion: the feeling of YOUR reply, not the user's. One of: %s
- emojis: 2 to 4 uppercase OpenMoji codepoints about the topic of the reply, e.g. "1F355" for pizza, "1F1EB-1F1F7" for France.
- actions: optional physical actions. Allowed objects:
    {"type": "move", "params": {...}}
    {"type": "light", "params": {...}}
    {"type": "move_sequence", "description": "...", "steps": [{"action": "rotate|move_forward|move_backward|pause|wave", "direction": "...", "duration_ms": <int>}]}
- memories: facts worth remembering long-term. Types: experience, person_fact, general, zone_info. Never store passwords, account numbers, ID numbers, addresses or health details.
- response_text: short, one paragraph unless asked for detail. It is read aloud by text-to-speech: write numbers and symbols as words, no lists, tables, asterisks or formulas. Answer in the user's language.`

// SystemPrompt builds the system instruction for a conversation turn.
func SystemPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, conversationRules, strings.Join(expression.Tags, ", "))

	if pc.ExtractName {
		b.WriteString("\n\nREGISTRATION: the robot is looking at an unknown face. If the user says their name, put exactly that name in person_name. Otherwise leave person_name empty and ask for it kindly.")
	}
	if pc.HasMedia {
		b.WriteString("\n\nMEDIA: audio, image or video is attached. Put a one-sentence transcript or description of it in media_summary.")
	}

	if pc.PersonID != "" {
		fmt.Fprintf(&b, "\n\nYou are talking to %s.", pc.PersonID)
	}

	writeMemories(&b, "THINGS YOU KNOW", pc.General)
	writeMemories(&b, "ABOUT THIS PERSON", pc.Person)
	writeMemories(&b, "ABOUT THE HOME", pc.Zone)

	return b.String()
}

func writeMemories(b *strings.Builder, title string, ms []*types.Memory) {
	if len(ms) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:\n", title)
	for _, m := range ms {
		fmt.Fprintf(b, "- %s\n", m.Content)
	}
}

// MemoryFusionPrompt asks the model to merge memories of one type about one
// subject into a single memory. subject is a person id or empty for the
// robot's own global memories.
func MemoryFusionPrompt(memType types.MemoryType, subject string, memories []*types.Memory) string {
	about := "the robot's general knowledge"
	if subject != "" {
		about = "about " + subject
	}

	var lines strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&lines, "  - %s (importance %d)\n", m.Content, m.Importance)
	}

	return fmt.Sprintf(`You are Robi, a friendly home robot. You have %d memories of type '%s' %s.
Fuse them into a single concise memory that keeps every relevant detail.
Use natural prose, at most 3 sentences.

Memories to fuse:
%s
Fused memory (text only, no prefixes or labels):`, len(memories), memType, about, lines.String())
}

// ConversationSummaryPrompt asks the model to summarise older turns.
func ConversationSummaryPrompt(turns []*types.ConversationTurn) string {
	var lines strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&lines, "%s: %s\n", t.Role, t.Content)
	}
	return "Summarise the following conversation concisely, keeping the key facts and the user's preferences:\n\n" + lines.String()
}
