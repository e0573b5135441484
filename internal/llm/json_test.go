package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain JSON object",
			input:    `{"key": "value"}`,
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with markdown code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with surrounding text",
			input:    "Aquí tienes:\n{\"key\": \"value\"}\nEspero que ayude",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "nested JSON object",
			input:    `{"actions": [{"type": "move", "params": {"x": 1}}]}`,
			wantJSON: `{"actions": [{"type": "move", "params": {"x": 1}}]}`,
		},
		{
			name:     "braces inside strings",
			input:    `{"response_text": "use {curly} braces"} trailing`,
			wantJSON: `{"response_text": "use {curly} braces"}`,
		},
		{
			name:     "escaped quotes in string",
			input:    `{"text": "He said \"hello\""}`,
			wantJSON: `{"text": "He said \"hello\""}`,
		},
		{
			name:     "no JSON present",
			input:    "just some text without json",
			wantJSON: "just some text without json",
		},
		{
			name:     "truncated object",
			input:    `{"emotion": "happy"`,
			wantJSON: `{"emotion": "happy"`,
		},
		{
			name:     "empty string",
			input:    "",
			wantJSON: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantJSON, ExtractJSON(tt.input))
		})
	}
}

func FuzzExtractJSON(f *testing.F) {
	f.Add(`{"emotion": "happy", "response_text": "hola"}`)
	f.Add("```json\n{\"emojis\": []}\n```")
	f.Add(`{{{`)
	f.Add(`"}"{`)
	f.Add(`text {"a": "\\"} more`)

	f.Fuzz(func(t *testing.T, input string) {
		out := ExtractJSON(input)
		if json.Valid([]byte(input)) && len(input) > 0 && input[0] == '{' {
			// A valid object is returned whole.
			assert.True(t, json.Valid([]byte(out)), "got %q", out)
		}
	})
}
