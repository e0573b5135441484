// Package config provides configuration management for Robi.
// It loads settings from environment variables with the ROBI_ prefix and
// provides sensible defaults for all configuration options.
//
// A YAML file may be layered underneath with LoadFile: values in the file
// replace the defaults, and environment variables still win over both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Robi backend.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Security     SecurityConfig     `yaml:"security"`
	Storage      StorageConfig      `yaml:"storage"`
	LLM          LLMConfig          `yaml:"llm"`
	Memory       MemoryConfig       `yaml:"memory"`
	Conversation ConversationConfig `yaml:"conversation"`
	Workers      WorkersConfig      `yaml:"workers"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Backup       BackupConfig       `yaml:"backup"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`            // Server port (default: 8000)
	Host           string   `yaml:"host"`            // Server host (default: 0.0.0.0)
	WSPath         string   `yaml:"ws_path"`         // Interaction endpoint (default: /ws/interact)
	RateLimit      float64  `yaml:"rate_limit"`      // New connections per second (default: 5)
	RateBurst      int      `yaml:"rate_burst"`      // Connection burst (default: 10)
	OriginPatterns []string `yaml:"origin_patterns"` // Accepted browser origins (default: none)
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	APIKey      string        `yaml:"api_key"`      // Shared secret for the auth handshake (required)
	AuthTimeout time.Duration `yaml:"auth_timeout"` // Wait for the auth message (default: 10s)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // Directory for the SQLite file (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // Connection string when engine is postgres
}

// LLMConfig contains generation provider configuration.
type LLMConfig struct {
	LLMProvider     string        `yaml:"provider"`          // gemini, openai or ollama (default: gemini)
	GeminiAPIKey    string        `yaml:"gemini_api_key"`    // Gemini API key
	GeminiModel     string        `yaml:"gemini_model"`      // Gemini model (default: gemini-2.0-flash)
	OpenAIAPIKey    string        `yaml:"openai_api_key"`    // OpenAI API key
	OpenAIModel     string        `yaml:"openai_model"`      // OpenAI model (default: gpt-4o-mini)
	OpenAIBaseURL   string        `yaml:"openai_base_url"`   // OpenAI-compatible base URL
	OllamaURL       string        `yaml:"ollama_url"`        // Ollama API URL (default: http://localhost:11434)
	OllamaModel     string        `yaml:"ollama_model"`      // Ollama model (default: qwen2.5:7b)
	Timeout         time.Duration `yaml:"timeout"`           // Per-request timeout (default: 60s)
	Temperature     float64       `yaml:"temperature"`       // Sampling temperature (default: 0.7)
	MaxOutputTokens int           `yaml:"max_output_tokens"` // Reply token cap (default: 1024)
	BreakerFailures int           `yaml:"breaker_failures"`  // Consecutive failures before opening (default: 5)
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`   // Time the breaker stays open (default: 30s)
}

// MemoryConfig tunes memory context and compaction.
type MemoryConfig struct {
	GeneralCap          int `yaml:"general_cap"`          // General memories per prompt (default: 10)
	PersonCap           int `yaml:"person_cap"`           // Person memories per prompt (default: 8)
	ZoneCap             int `yaml:"zone_cap"`             // Zone memories per prompt (default: 5)
	CompactionThreshold int `yaml:"compaction_threshold"` // Group size that triggers compaction (default: 8)
	CompactionKeep      int `yaml:"compaction_keep"`      // Salient memories left untouched (default: 2)
	CompactedImportance int `yaml:"compacted_importance"` // Importance of fused memories (default: 7)
}

// ConversationConfig tunes conversation log compaction.
type ConversationConfig struct {
	CompactionThreshold int `yaml:"compaction_threshold"` // Log size that triggers a summary (default: 20)
	Keep                int `yaml:"keep"`                 // Recent turns never summarised (default: 5)
}

// WorkersConfig sizes the background task pool.
type WorkersConfig struct {
	NumWorkers      int           `yaml:"num_workers"`      // Worker goroutines (default: 2)
	QueueSize       int           `yaml:"queue_size"`       // Pending task buffer (default: 256)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Drain wait on shutdown (default: 30s)
	TaskTimeout     time.Duration `yaml:"task_timeout"`     // Bound on one task (default: 2m)
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Serve metrics (default: true)
	Path    string `yaml:"path"`    // Metrics path (default: /metrics)
}

// BackupConfig controls SQLite snapshots.
type BackupConfig struct {
	Interval time.Duration `yaml:"interval"` // Scheduled snapshot interval, 0 disables (default: 0)
	Dir      string        `yaml:"dir"`      // Snapshot directory (default: <data_path>/backups)
	Keep     int           `yaml:"keep"`     // Snapshots kept after pruning (default: 24)
	Verify   bool          `yaml:"verify"`   // Integrity-check each snapshot (default: true)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the ROBI_ prefix.
func LoadConfig() (*Config, error) {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg, nil
}

// LoadFile loads a YAML file over the defaults and then applies environment
// variables on top. An empty path behaves like LoadConfig.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8000,
			Host:      "0.0.0.0",
			WSPath:    "/ws/interact",
			RateLimit: 5,
			RateBurst: 10,
		},
		Security: SecurityConfig{
			AuthTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		LLM: LLMConfig{
			LLMProvider:     "gemini",
			GeminiModel:     "gemini-2.0-flash",
			OpenAIModel:     "gpt-4o-mini",
			OllamaURL:       "http://localhost:11434",
			OllamaModel:     "qwen2.5:7b",
			Timeout:         60 * time.Second,
			Temperature:     0.7,
			MaxOutputTokens: 1024,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Memory: MemoryConfig{
			GeneralCap:          10,
			PersonCap:           8,
			ZoneCap:             5,
			CompactionThreshold: 8,
			CompactionKeep:      2,
			CompactedImportance: 7,
		},
		Conversation: ConversationConfig{
			CompactionThreshold: 20,
			Keep:                5,
		},
		Workers: WorkersConfig{
			NumWorkers:      2,
			QueueSize:       256,
			ShutdownTimeout: 30 * time.Second,
			TaskTimeout:     2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Backup: BackupConfig{
			Keep:   24,
			Verify: true,
		},
	}
}

// applyEnv overrides cfg with any ROBI_ variables that are set. Values that
// fail to parse leave the current setting alone.
func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Port = getEnvInt("ROBI_PORT", s.Port)
	s.Host = getEnv("ROBI_HOST", s.Host)
	s.WSPath = getEnv("ROBI_WS_PATH", s.WSPath)
	s.RateLimit = getEnvFloat("ROBI_RATE_LIMIT", s.RateLimit)
	s.RateBurst = getEnvInt("ROBI_RATE_BURST", s.RateBurst)
	s.OriginPatterns = getEnvList("ROBI_ORIGIN_PATTERNS", s.OriginPatterns)

	sec := &cfg.Security
	sec.APIKey = getEnv("ROBI_API_KEY", sec.APIKey)
	sec.AuthTimeout = getEnvDuration("ROBI_AUTH_TIMEOUT", sec.AuthTimeout)

	st := &cfg.Storage
	st.StorageEngine = getEnv("ROBI_STORAGE_ENGINE", st.StorageEngine)
	st.DataPath = getEnv("ROBI_DATA_PATH", st.DataPath)
	st.PostgresDSN = getEnv("ROBI_POSTGRES_DSN", st.PostgresDSN)

	l := &cfg.LLM
	l.LLMProvider = getEnv("ROBI_LLM_PROVIDER", l.LLMProvider)
	l.GeminiAPIKey = getEnv("ROBI_GEMINI_API_KEY", l.GeminiAPIKey)
	l.GeminiModel = getEnv("ROBI_GEMINI_MODEL", l.GeminiModel)
	l.OpenAIAPIKey = getEnv("ROBI_OPENAI_API_KEY", l.OpenAIAPIKey)
	l.OpenAIModel = getEnv("ROBI_OPENAI_MODEL", l.OpenAIModel)
	l.OpenAIBaseURL = getEnv("ROBI_OPENAI_BASE_URL", l.OpenAIBaseURL)
	l.OllamaURL = getEnv("ROBI_OLLAMA_URL", l.OllamaURL)
	l.OllamaModel = getEnv("ROBI_OLLAMA_MODEL", l.OllamaModel)
	l.Timeout = getEnvDuration("ROBI_LLM_TIMEOUT", l.Timeout)
	l.Temperature = getEnvFloat("ROBI_LLM_TEMPERATURE", l.Temperature)
	l.MaxOutputTokens = getEnvInt("ROBI_LLM_MAX_OUTPUT_TOKENS", l.MaxOutputTokens)
	l.BreakerFailures = getEnvInt("ROBI_LLM_BREAKER_FAILURES", l.BreakerFailures)
	l.BreakerTimeout = getEnvDuration("ROBI_LLM_BREAKER_TIMEOUT", l.BreakerTimeout)

	m := &cfg.Memory
	m.GeneralCap = getEnvInt("ROBI_MEMORY_GENERAL_CAP", m.GeneralCap)
	m.PersonCap = getEnvInt("ROBI_MEMORY_PERSON_CAP", m.PersonCap)
	m.ZoneCap = getEnvInt("ROBI_MEMORY_ZONE_CAP", m.ZoneCap)
	m.CompactionThreshold = getEnvInt("ROBI_MEMORY_COMPACTION_THRESHOLD", m.CompactionThreshold)
	m.CompactionKeep = getEnvInt("ROBI_MEMORY_COMPACTION_KEEP", m.CompactionKeep)
	m.CompactedImportance = getEnvInt("ROBI_MEMORY_COMPACTED_IMPORTANCE", m.CompactedImportance)

	c := &cfg.Conversation
	c.CompactionThreshold = getEnvInt("ROBI_CONVERSATION_COMPACTION_THRESHOLD", c.CompactionThreshold)
	c.Keep = getEnvInt("ROBI_CONVERSATION_KEEP", c.Keep)

	w := &cfg.Workers
	w.NumWorkers = getEnvInt("ROBI_WORKERS", w.NumWorkers)
	w.QueueSize = getEnvInt("ROBI_WORKER_QUEUE_SIZE", w.QueueSize)
	w.ShutdownTimeout = getEnvDuration("ROBI_WORKER_SHUTDOWN_TIMEOUT", w.ShutdownTimeout)
	w.TaskTimeout = getEnvDuration("ROBI_WORKER_TASK_TIMEOUT", w.TaskTimeout)

	mt := &cfg.Metrics
	mt.Enabled = getEnvBool("ROBI_METRICS_ENABLED", mt.Enabled)
	mt.Path = getEnv("ROBI_METRICS_PATH", mt.Path)

	b := &cfg.Backup
	b.Interval = getEnvDuration("ROBI_BACKUP_INTERVAL", b.Interval)
	b.Dir = getEnv("ROBI_BACKUP_DIR", b.Dir)
	b.Keep = getEnvInt("ROBI_BACKUP_KEEP", b.Keep)
	b.Verify = getEnvBool("ROBI_BACKUP_VERIFY", b.Verify)
}

// BackupDir is the snapshot directory, defaulting under DataPath.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Storage.DataPath, "backups")
}

// SQLitePath is the database file used by the sqlite engine.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataPath, "robi.db")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be in [0, 65535], got %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server ws_path must start with /, got %q", c.Server.WSPath))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server rate_limit must be > 0 and rate_burst >= 1"))
	}
	if c.Security.APIKey == "" {
		errs = append(errs, errors.New("security api_key is required (ROBI_API_KEY)"))
	}
	if c.Security.AuthTimeout <= 0 {
		errs = append(errs, errors.New("security auth_timeout must be > 0"))
	}
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage postgres_dsn is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage engine %q", c.Storage.StorageEngine))
	}
	switch c.LLM.LLMProvider {
	case "gemini", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider %q", c.LLM.LLMProvider))
	}
	if c.Backup.Interval < 0 {
		errs = append(errs, errors.New("backup interval must be >= 0"))
	}
	if c.Memory.GeneralCap < 0 || c.Memory.PersonCap < 0 || c.Memory.ZoneCap < 0 {
		errs = append(errs, errors.New("memory context caps must be >= 0"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
