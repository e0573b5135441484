// Package storage provides composable storage interfaces for the Robi backend.
//
// Each durable concern (memories, people, the conversation log and the zone
// graph) has its own small interface so services depend only on what they use.
// The sqlite and postgres packages implement all of them on a single Store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/robi/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a uniqueness violation (e.g. duplicate zone name).
	ErrConflict = errors.New("resource already exists")
)

// Scope selects which owner a memory query is restricted to.
type Scope int

const (
	// ScopeAny applies no owner filter.
	ScopeAny Scope = iota

	// ScopeGlobal matches only memories without an owning person.
	ScopeGlobal

	// ScopePerson matches only memories owned by MemoryQuery.PersonID.
	ScopePerson
)

// MemoryQuery filters and orders a memory listing.
type MemoryQuery struct {
	Scope    Scope
	PersonID string

	// Types restricts the memory types returned. Empty means all types.
	Types []types.MemoryType

	// IncludeExpired returns memories whose expiry has passed.
	IncludeExpired bool

	// MinImportance drops memories below this importance. Zero disables.
	MinImportance int

	// ByRecency orders by timestamp desc only. Otherwise results are ordered
	// by importance desc, then timestamp desc.
	ByRecency bool

	// Limit caps the result size. Zero or negative means unlimited.
	Limit int

	// Now is the reference time for expiry. Zero means time.Now().
	Now time.Time
}

// Reference returns the query's reference time.
func (q MemoryQuery) Reference() time.Time {
	if q.Now.IsZero() {
		return time.Now()
	}
	return q.Now
}

// MemoryStore persists memories.
type MemoryStore interface {
	// SaveMemory inserts a new memory. The ID must be set by the caller.
	SaveMemory(ctx context.Context, m *types.Memory) error

	// GetMemory returns ErrNotFound if the memory doesn't exist.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// QueryMemories lists memories matching q.
	QueryMemories(ctx context.Context, q MemoryQuery) ([]*types.Memory, error)

	// DeleteMemory returns ErrNotFound if the memory doesn't exist.
	DeleteMemory(ctx context.Context, id string) error

	// DeleteMemoriesForPerson removes every memory owned by personID and
	// returns how many were removed.
	DeleteMemoriesForPerson(ctx context.Context, personID string) (int, error)

	// ReplaceMemories inserts replacement and deletes oldIDs in a single
	// transaction. Either both happen or neither does.
	ReplaceMemories(ctx context.Context, oldIDs []string, replacement *types.Memory) error
}

// PersonStore persists people and their face embeddings.
type PersonStore interface {
	CreatePerson(ctx context.Context, p *types.Person) error
	GetPerson(ctx context.Context, personID string) (*types.Person, error)

	// FindPersonByName matches names case-insensitively. Returns ErrNotFound
	// when nobody matches; the earliest registered person wins on ties.
	FindPersonByName(ctx context.Context, name string) (*types.Person, error)

	ListPeople(ctx context.Context) ([]*types.Person, error)

	// TouchPerson sets last_seen and increments the interaction counter.
	TouchPerson(ctx context.Context, personID string, at time.Time) error

	RenamePerson(ctx context.Context, personID, name string) error

	// CountPeopleWithPrefix counts person ids starting with prefix.
	CountPeopleWithPrefix(ctx context.Context, prefix string) (int, error)

	// AddFaceEmbedding stores an embedding and sets its ID.
	AddFaceEmbedding(ctx context.Context, e *types.FaceEmbedding) error

	ListFaceEmbeddings(ctx context.Context, personID string) ([]*types.FaceEmbedding, error)
}

// ConversationStore persists the global conversation log.
type ConversationStore interface {
	// AppendTurns stores turns in one transaction and sets their IDs. Seq
	// must be set by the caller. Either every turn is stored or none is.
	AppendTurns(ctx context.Context, turns ...*types.ConversationTurn) error

	// ListTurns returns every turn ordered by seq ascending.
	ListTurns(ctx context.Context) ([]*types.ConversationTurn, error)

	// ReplaceTurns deletes the turns with the given ids and inserts summary in
	// one transaction, setting summary.ID.
	ReplaceTurns(ctx context.Context, oldIDs []int64, summary *types.ConversationTurn) error
}

// ZoneStore persists the zone graph.
type ZoneStore interface {
	CreateZone(ctx context.Context, z *types.Zone) error
	GetZone(ctx context.Context, id int64) (*types.Zone, error)
	GetZoneByName(ctx context.Context, name string) (*types.Zone, error)
	UpdateZone(ctx context.Context, z *types.Zone) error
	ListZones(ctx context.Context) ([]*types.Zone, error)

	// SetCurrentZone clears the current flag on every zone and sets it on id,
	// atomically. Returns ErrNotFound, changing nothing, if id doesn't exist.
	SetCurrentZone(ctx context.Context, id int64) error

	// GetCurrentZone returns ErrNotFound when no zone holds the flag.
	GetCurrentZone(ctx context.Context) (*types.Zone, error)

	// AddEdge stores a directed edge and sets its ID.
	AddEdge(ctx context.Context, e *types.ZoneEdge) error

	// ListEdges returns every edge in insertion order.
	ListEdges(ctx context.Context) ([]*types.ZoneEdge, error)

	// ListEdgesFrom returns edges leaving zoneID in insertion order.
	ListEdgesFrom(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error)

	// ListEdgesForZone returns edges leaving or entering zoneID.
	ListEdgesForZone(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error)
}

// Store is the full persistence surface implemented by every backend.
type Store interface {
	MemoryStore
	PersonStore
	ConversationStore
	ZoneStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
