// Package memory owns the robot's long-term memories: privacy-filtered
// writes, importance-ranked retrieval for prompt context, compaction
// replacement, and the registry of people the robot has met.
package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scrypster/robi/internal/metrics"
	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

// ErrPrivateContent is returned when content is rejected by the privacy
// filter. Callers on the turn path treat it as a silent no-op.
var ErrPrivateContent = errors.New("memory: content rejected by privacy filter")

// DefaultImportance is used when a save request leaves importance unset.
const DefaultImportance = 5

// Caps bound how many memories of each group go into a prompt.
type Caps struct {
	General int
	Person  int
	Zone    int
}

// DefaultCaps are 10 general, 8 person and 5 zone memories.
var DefaultCaps = Caps{General: 10, Person: 8, Zone: 5}

// Context is the memory slice injected into a generation request.
type Context struct {
	General []*types.Memory
	Person  []*types.Memory
	Zone    []*types.Memory
}

// Empty reports whether no memories were found.
func (c *Context) Empty() bool {
	return c == nil || len(c.General)+len(c.Person)+len(c.Zone) == 0
}

// SaveRequest describes a new memory.
type SaveRequest struct {
	Type       types.MemoryType
	Content    string
	PersonID   *string
	ZoneID     *int64
	Importance int
	ExpiresAt  *time.Time
}

// ListOptions filters GetForPerson and GetGeneral.
type ListOptions struct {
	Type           types.MemoryType
	IncludeExpired bool
	Limit          int
}

// Service implements memory operations over a storage backend.
type Service struct {
	store  storage.MemoryStore
	people storage.PersonStore
	now    func() time.Time

	entropyMu sync.Mutex
	entropy   io.Reader
}

// NewService creates a memory service.
func NewService(store storage.MemoryStore, people storage.PersonStore) *Service {
	return &Service{
		store:   store,
		people:  people,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newID returns a lexically sortable memory id.
func (s *Service) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *Service) build(req SaveRequest) (*types.Memory, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, req.Type)
	}
	importance := req.Importance
	if importance == 0 {
		importance = DefaultImportance
	}
	importance = clampImportance(importance)

	personID := req.PersonID
	if personID != nil && *personID == "" {
		personID = nil
	}

	return &types.Memory{
		ID:         s.newID(),
		Type:       req.Type,
		Content:    content,
		PersonID:   personID,
		ZoneID:     req.ZoneID,
		Importance: importance,
		Timestamp:  s.now().UTC(),
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

func clampImportance(v int) int {
	if v < types.MinImportance {
		return types.MinImportance
	}
	if v > types.MaxImportance {
		return types.MaxImportance
	}
	return v
}

// Save persists a memory. Content matching the privacy filter is never
// stored; ErrPrivateContent is returned instead.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*types.Memory, error) {
	if IsPrivate(req.Content) {
		metrics.PrivacyRejected()
		log.Printf("memory: discarded a %s memory matching the privacy filter", req.Type)
		return nil, ErrPrivateContent
	}

	m, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetForPerson lists a person's memories by importance then recency.
func (s *Service) GetForPerson(ctx context.Context, personID string, opts ListOptions) ([]*types.Memory, error) {
	return s.store.QueryMemories(ctx, s.listQuery(storage.ScopePerson, personID, opts))
}

// GetGeneral lists global memories by importance then recency.
func (s *Service) GetGeneral(ctx context.Context, opts ListOptions) ([]*types.Memory, error) {
	return s.store.QueryMemories(ctx, s.listQuery(storage.ScopeGlobal, "", opts))
}

func (s *Service) listQuery(scope storage.Scope, personID string, opts ListOptions) storage.MemoryQuery {
	q := storage.MemoryQuery{
		Scope:          scope,
		PersonID:       personID,
		IncludeExpired: opts.IncludeExpired,
		Limit:          opts.Limit,
		Now:            s.now(),
	}
	if opts.Type != "" {
		q.Types = []types.MemoryType{opts.Type}
	}
	return q
}

// GetMostImportant returns the most recent active memories with importance
// of at least minImportance, for personID or (when empty) global memories.
func (s *Service) GetMostImportant(ctx context.Context, personID string, minImportance, limit int) ([]*types.Memory, error) {
	q := storage.MemoryQuery{
		Scope:         storage.ScopeGlobal,
		MinImportance: minImportance,
		ByRecency:     true,
		Limit:         limit,
		Now:           s.now(),
	}
	if personID != "" {
		q.Scope = storage.ScopePerson
		q.PersonID = personID
	}
	return s.store.QueryMemories(ctx, q)
}

// GetActiveForSubject returns every active memory owned by personID, or every
// active global memory when personID is empty.
func (s *Service) GetActiveForSubject(ctx context.Context, personID string) ([]*types.Memory, error) {
	if personID == "" {
		return s.GetGeneral(ctx, ListOptions{})
	}
	return s.GetForPerson(ctx, personID, ListOptions{})
}

// GetContext assembles the prompt context: global experience/general
// memories, zone info from anyone, and the active person's memories.
func (s *Service) GetContext(ctx context.Context, personID string, caps Caps) (*Context, error) {
	now := s.now()
	out := &Context{}

	general, err := s.store.QueryMemories(ctx, storage.MemoryQuery{
		Scope: storage.ScopeGlobal,
		Types: []types.MemoryType{types.MemoryExperience, types.MemoryGeneral},
		Limit: caps.General,
		Now:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: failed to load general context: %w", err)
	}
	out.General = general

	zone, err := s.store.QueryMemories(ctx, storage.MemoryQuery{
		Types: []types.MemoryType{types.MemoryZoneInfo},
		Limit: caps.Zone,
		Now:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: failed to load zone context: %w", err)
	}
	out.Zone = zone

	if personID != "" {
		person, err := s.store.QueryMemories(ctx, storage.MemoryQuery{
			Scope:    storage.ScopePerson,
			PersonID: personID,
			Limit:    caps.Person,
			Now:      now,
		})
		if err != nil {
			return nil, fmt.Errorf("memory: failed to load person context: %w", err)
		}
		out.Person = person
	}

	return out, nil
}

// Delete removes one memory.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMemory(ctx, id)
}

// DeleteAllForPerson removes a person's memories and returns the count.
func (s *Service) DeleteAllForPerson(ctx context.Context, personID string) (int, error) {
	return s.store.DeleteMemoriesForPerson(ctx, personID)
}

// ReplaceWithCompacted swaps oldIDs for a single new memory. The privacy
// check runs first: a rejected replacement leaves the old memories intact.
// Otherwise the insert and the deletes commit together.
func (s *Service) ReplaceWithCompacted(ctx context.Context, oldIDs []string, req SaveRequest) (*types.Memory, error) {
	if IsPrivate(req.Content) {
		metrics.PrivacyRejected()
		log.Printf("memory: compacted %s memory matched the privacy filter; keeping %d originals", req.Type, len(oldIDs))
		return nil, ErrPrivateContent
	}

	m, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceMemories(ctx, oldIDs, m); err != nil {
		return nil, err
	}
	return m, nil
}
