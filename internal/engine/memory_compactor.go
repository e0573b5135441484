package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/scrypster/robi/internal/llm"
	"github.com/scrypster/robi/internal/memory"
	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/pkg/types"
)

// MemorySource is the slice of the memory service the compactor needs.
type MemorySource interface {
	GetActiveForSubject(ctx context.Context, personID string) ([]*types.Memory, error)
	ReplaceWithCompacted(ctx context.Context, oldIDs []string, req memory.SaveRequest) (*types.Memory, error)
}

// MemoryCompactor merges oversized groups of memories about one subject into
// a single fused memory. At most one pass per subject runs at a time.
type MemoryCompactor struct {
	mem    MemorySource
	gen    llm.TextGenerator
	config CompactorConfig

	mu      sync.Mutex
	running map[string]bool
}

// NewMemoryCompactor creates a compactor.
func NewMemoryCompactor(mem MemorySource, gen llm.TextGenerator, cfg CompactorConfig) (*MemoryCompactor, error) {
	if mem == nil || gen == nil {
		return nil, fmt.Errorf("memory source and text generator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compactor config: %w", err)
	}
	return &MemoryCompactor{
		mem:     mem,
		gen:     gen,
		config:  cfg,
		running: make(map[string]bool),
	}, nil
}

func subjectKey(personID string) string {
	if personID == "" {
		return "global"
	}
	return personID
}

// acquire marks subject as running. It reports false if a pass is already
// in progress for it.
func (c *MemoryCompactor) acquire(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[subject] {
		return false
	}
	c.running[subject] = true
	return true
}

func (c *MemoryCompactor) release(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, subject)
}

// CompactSubject runs one pass for personID, or for global memories when
// personID is empty. It returns how many groups were replaced. A failure in
// one group is logged and does not stop the others.
func (c *MemoryCompactor) CompactSubject(ctx context.Context, personID string) (int, error) {
	key := subjectKey(personID)
	if !c.acquire(key) {
		log.Printf("compaction: pass already running for %s, skipping", key)
		metrics.Compacted("memory", "skipped")
		return 0, nil
	}
	defer c.release(key)

	active, err := c.mem.GetActiveForSubject(ctx, personID)
	if err != nil {
		return 0, fmt.Errorf("compaction: failed to load memories for %s: %w", key, err)
	}

	groups := make(map[types.MemoryType][]*types.Memory)
	for _, m := range active {
		groups[m.Type] = append(groups[m.Type], m)
	}

	compacted := 0
	for _, memType := range types.ValidMemoryTypes {
		group := groups[memType]
		if len(group) <= c.config.Threshold {
			continue
		}
		ok, err := c.compactGroup(ctx, personID, memType, group)
		if err != nil {
			log.Printf("ERROR: compaction: %s/%s: %v", key, memType, err)
			metrics.Compacted("memory", "error")
			continue
		}
		if ok {
			compacted++
			metrics.Compacted("memory", "ok")
		}
	}
	return compacted, nil
}

// compactGroup fuses all but the Keep most salient memories of one group.
func (c *MemoryCompactor) compactGroup(ctx context.Context, personID string, memType types.MemoryType, group []*types.Memory) (bool, error) {
	sorted := make([]*types.Memory, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	toFuse := sorted[c.config.Keep:]
	if len(toFuse) < 2 {
		return false, nil
	}

	fused, err := c.gen.Complete(ctx, llm.MemoryFusionPrompt(memType, personID, toFuse))
	if err != nil {
		return false, fmt.Errorf("fusion failed: %w", err)
	}
	fused = strings.TrimSpace(fused)
	if fused == "" {
		return false, fmt.Errorf("model returned an empty fused memory")
	}

	oldIDs := make([]string, len(toFuse))
	for i, m := range toFuse {
		oldIDs[i] = m.ID
	}

	req := memory.SaveRequest{
		Type:       memType,
		Content:    fused,
		Importance: c.config.Importance,
		ZoneID:     sharedZone(toFuse),
	}
	if personID != "" {
		req.PersonID = &personID
	}

	m, err := c.mem.ReplaceWithCompacted(ctx, oldIDs, req)
	if errors.Is(err, memory.ErrPrivateContent) {
		log.Printf("WARNING: compaction: fused %s memory for %s was rejected by the privacy filter; originals kept", memType, subjectKey(personID))
		metrics.Compacted("memory", "rejected")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log.Printf("compaction: fused %d %s memories for %s into %s", len(oldIDs), memType, subjectKey(personID), m.ID)
	return true, nil
}

// sharedZone returns the zone common to every memory, or nil.
func sharedZone(ms []*types.Memory) *int64 {
	if len(ms) == 0 || ms[0].ZoneID == nil {
		return nil
	}
	z := *ms[0].ZoneID
	for _, m := range ms[1:] {
		if m.ZoneID == nil || *m.ZoneID != z {
			return nil
		}
	}
	return &z
}
