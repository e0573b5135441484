// Package engine runs the robot's background work: a bounded pool for
// fire-and-forget turn side effects and the memory compactor.
package engine

import (
	"fmt"
	"time"
)

// Config holds configuration for the background task pool.
type Config struct {
	// NumWorkers is the number of worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the size of the task queue buffer (default: 256).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// TaskTimeout bounds a single task (default: 2m). Model calls dominate.
	TaskTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		QueueSize:       256,
		ShutdownTimeout: 30 * time.Second,
		TaskTimeout:     2 * time.Minute,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("TaskTimeout must be > 0, got %v", c.TaskTimeout)
	}
	return nil
}

// CompactorConfig tunes memory compaction.
type CompactorConfig struct {
	// Threshold is the group size above which a group is compacted (default: 8).
	Threshold int

	// Keep is how many of the most salient memories stay untouched (default: 2).
	Keep int

	// Importance is assigned to every fused memory (default: 7).
	Importance int
}

// DefaultCompactorConfig returns threshold 8, keep 2, importance 7.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{Threshold: 8, Keep: 2, Importance: 7}
}

// Validate checks if the compactor config is valid.
func (c *CompactorConfig) Validate() error {
	if c.Threshold < 2 {
		return fmt.Errorf("Threshold must be >= 2, got %d", c.Threshold)
	}
	if c.Keep < 0 || c.Keep >= c.Threshold {
		return fmt.Errorf("Keep must be in [0, Threshold), got %d", c.Keep)
	}
	if c.Importance < 1 || c.Importance > 10 {
		return fmt.Errorf("Importance must be in [1, 10], got %d", c.Importance)
	}
	return nil
}
