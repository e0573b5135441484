// Package conversation keeps the robot's global conversation log: an ordered
// record of every user and assistant turn, cached in memory, mirrored to
// storage, and periodically summarised so the history sent to the model
// stays short.
package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/robi/internal/engine"
	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

// SummaryPrefix marks the synthetic turn that replaces a compacted range.
const SummaryPrefix = "[SUMMARY] "

// Config tunes log compaction.
type Config struct {
	// Threshold is the cached size at which compaction is scheduled (default: 20).
	Threshold int

	// Keep is how many of the most recent turns are never summarised (default: 5).
	Keep int
}

// DefaultConfig returns threshold 20, keep 5.
func DefaultConfig() Config {
	return Config{Threshold: 20, Keep: 5}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Keep < 1 {
		return fmt.Errorf("Keep must be >= 1, got %d", c.Keep)
	}
	if c.Threshold <= c.Keep+1 {
		return fmt.Errorf("Threshold must be > Keep+1, got %d", c.Threshold)
	}
	return nil
}

// Scheduler runs background work. engine.TaskPool satisfies it.
type Scheduler interface {
	Submit(task engine.Task) bool
}

// Log is the global conversation log. All cache mutation happens under mu,
// so appends and a running compaction never interleave their writes.
type Log struct {
	store  storage.ConversationStore
	gen    llm.TextGenerator
	sched  Scheduler
	config Config
	now    func() time.Time

	mu         sync.Mutex
	turns      []*types.ConversationTurn
	nextSeq    int64
	compacting bool
}

// New creates a log. Call LoadAll before use to pick up persisted turns.
func New(store storage.ConversationStore, gen llm.TextGenerator, sched Scheduler, cfg Config) (*Log, error) {
	if store == nil || gen == nil || sched == nil {
		return nil, fmt.Errorf("conversation store, text generator and scheduler are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation config: %w", err)
	}
	return &Log{
		store:  store,
		gen:    gen,
		sched:  sched,
		config: cfg,
		now:    time.Now,
	}, nil
}

// LoadAll replaces the cache with the persisted log.
func (l *Log) LoadAll(ctx context.Context) error {
	turns, err := l.store.ListTurns(ctx)
	if err != nil {
		return fmt.Errorf("conversation: failed to load log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = turns
	l.nextSeq = 0
	for _, t := range turns {
		if t.Seq >= l.nextSeq {
			l.nextSeq = t.Seq + 1
		}
	}
	return nil
}

// Append assigns the next sequence number to a turn, persists it, and then
// adds it to the cache.
func (l *Log) Append(ctx context.Context, role types.Role, content string) (*types.ConversationTurn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: turn content is required", storage.ErrInvalidInput)
	}
	if role != types.RoleUser && role != types.RoleAssistant {
		return nil, fmt.Errorf("%w: unknown role %q", storage.ErrInvalidInput, role)
	}
	turns, err := l.appendAll(ctx, []*types.ConversationTurn{{Role: role, Content: content}})
	if err != nil {
		return nil, err
	}
	return turns[0], nil
}

// AppendExchange records one user/assistant pair with consecutive sequence
// numbers in a single write, so exchanges from concurrent turns never
// interleave. An empty side is skipped; if both are empty nothing is stored.
func (l *Log) AppendExchange(ctx context.Context, user, assistant string) ([]*types.ConversationTurn, error) {
	var turns []*types.ConversationTurn
	if c := strings.TrimSpace(user); c != "" {
		turns = append(turns, &types.ConversationTurn{Role: types.RoleUser, Content: c})
	}
	if c := strings.TrimSpace(assistant); c != "" {
		turns = append(turns, &types.ConversationTurn{Role: types.RoleAssistant, Content: c})
	}
	if len(turns) == 0 {
		return nil, nil
	}
	return l.appendAll(ctx, turns)
}

func (l *Log) appendAll(ctx context.Context, turns []*types.ConversationTurn) ([]*types.ConversationTurn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	for i, t := range turns {
		t.Seq = l.nextSeq + int64(i)
		t.Timestamp = now
	}
	if err := l.store.AppendTurns(ctx, turns...); err != nil {
		return nil, fmt.Errorf("conversation: failed to append turns: %w", err)
	}
	l.nextSeq += int64(len(turns))
	l.turns = append(l.turns, turns...)
	return turns, nil
}

// Len returns the number of cached turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Turns returns a copy of the cached log in order.
func (l *Log) Turns() []types.ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ConversationTurn, len(l.turns))
	for i, t := range l.turns {
		out[i] = *t
	}
	return out
}

// History returns the log as chat messages for the model.
func (l *Log) History() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]llm.Message, len(l.turns))
	for i, t := range l.turns {
		out[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}

// CompactIfThreshold schedules a background compaction when the cache has
// reached the threshold and none is already in flight. It reports whether a
// compaction was scheduled.
func (l *Log) CompactIfThreshold() bool {
	l.mu.Lock()
	if l.compacting || len(l.turns) < l.config.Threshold {
		l.mu.Unlock()
		return false
	}
	l.compacting = true
	l.mu.Unlock()

	ok := l.sched.Submit(engine.Task{Name: "conversation_compaction", Run: l.Compact})
	if !ok {
		l.mu.Lock()
		l.compacting = false
		l.mu.Unlock()
	}
	return ok
}

// Compact summarises every turn except the most recent Keep into a single
// compacted assistant turn. Turns appended while the summary is generated
// are preserved after it. On failure the log is left untouched.
func (l *Log) Compact(ctx context.Context) error {
	l.mu.Lock()
	if len(l.turns) <= l.config.Keep+1 {
		l.compacting = false
		l.mu.Unlock()
		return nil
	}
	n := len(l.turns) - l.config.Keep
	snapshot := make([]*types.ConversationTurn, n)
	copy(snapshot, l.turns[:n])
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.compacting = false
		l.mu.Unlock()
	}()

	summary, err := l.gen.Complete(ctx, llm.ConversationSummaryPrompt(snapshot))
	if err != nil {
		metrics.Compacted("conversation", "error")
		return fmt.Errorf("conversation: summary failed: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		metrics.Compacted("conversation", "error")
		return fmt.Errorf("conversation: model returned an empty summary")
	}

	oldIDs := make([]int64, n)
	for i, t := range snapshot {
		oldIDs[i] = t.ID
	}
	st := &types.ConversationTurn{
		Seq:       snapshot[0].Seq,
		Role:      types.RoleAssistant,
		Content:   SummaryPrefix + summary,
		Compacted: true,
		Timestamp: l.now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.ReplaceTurns(ctx, oldIDs, st); err != nil {
		metrics.Compacted("conversation", "error")
		return fmt.Errorf("conversation: failed to store summary: %w", err)
	}

	// Only Compact removes turns and it never runs twice at once, so the
	// snapshot is still the head of the cache.
	rest := l.turns[n:]
	turns := make([]*types.ConversationTurn, 0, len(rest)+1)
	turns = append(turns, st)
	turns = append(turns, rest...)
	l.turns = turns

	metrics.Compacted("conversation", "ok")
	log.Printf("conversation: summarised %d turns, %d remain", n, len(l.turns))
	return nil
}
