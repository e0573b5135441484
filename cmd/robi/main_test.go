package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/robi/internal/config"
)

// run executes the root command with args against a data directory.
func run(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	t.Setenv("ROBI_STORAGE_ENGINE", "sqlite")
	t.Setenv("ROBI_DATA_PATH", dataDir)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestZonesCommands(t *testing.T) {
	dir := t.TempDir()

	out := run(t, dir, "zones", "add", "cocina", "--category", "kitchen")
	assert.Contains(t, out, "created zone")
	assert.Contains(t, out, "(kitchen)")

	out = run(t, dir, "zones", "add", "cocina")
	assert.Contains(t, out, "exists zone")

	run(t, dir, "zones", "link", "salon", "pasillo", "--hint", "left door")
	run(t, dir, "zones", "link", "pasillo", "cocina", "--distance", "250")

	out = run(t, dir, "zones", "path", "salon", "cocina")
	assert.Equal(t, "1. salon -> pasillo (left door)\n2. pasillo -> cocina 250cm\n", out)

	out = run(t, dir, "zones", "path", "cocina", "salon")
	assert.Contains(t, out, "no path from cocina to salon")

	out = run(t, dir, "zones", "current")
	assert.Contains(t, out, "no current zone")

	out = run(t, dir, "zones", "current", "pasillo")
	assert.Contains(t, out, "current zone: pasillo")

	out = run(t, dir, "zones", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, out, "*")
}

func TestBackupCommands(t *testing.T) {
	dir := t.TempDir()
	run(t, dir, "zones", "add", "cocina")

	out := run(t, dir, "backup")
	assert.Contains(t, out, "verified=true")

	out = run(t, dir, "backup", "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	path := strings.Fields(lines[1])[3]
	out = run(t, dir, "backup", "verify", path)
	assert.Contains(t, out, ": ok")
}

func TestServe_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("ROBI_API_KEY", "")
	t.Setenv("ROBI_DATA_PATH", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"serve"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestLLMConfig_SelectsProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.GeminiAPIKey = "g"
	cfg.LLM.OpenAIAPIKey = "o"
	cfg.LLM.OpenAIBaseURL = "http://proxy"

	c := llmConfig(cfg)
	assert.Equal(t, "gemini", c.Provider)
	assert.Equal(t, "g", c.APIKey)
	assert.Equal(t, cfg.LLM.GeminiModel, c.Model)
	assert.Equal(t, uint32(5), c.Breaker.MaxFailures)

	cfg.LLM.LLMProvider = "openai"
	c = llmConfig(cfg)
	assert.Equal(t, "o", c.APIKey)
	assert.Equal(t, "http://proxy", c.BaseURL)
	assert.Equal(t, cfg.LLM.OpenAIModel, c.Model)

	cfg.LLM.LLMProvider = "ollama"
	c = llmConfig(cfg)
	assert.Empty(t, c.APIKey)
	assert.Equal(t, cfg.LLM.OllamaURL, c.BaseURL)
	assert.Equal(t, cfg.LLM.OllamaModel, c.Model)
}
