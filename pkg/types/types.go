// Package types defines the core data structures shared by the Robi
// conversational backend: memories, people and their face embeddings,
// conversation turns, and the zones of the home the robot moves through.
package types

import "time"

// MemoryType classifies a memory record.
type MemoryType string

// Memory type constants
const (
	// MemoryExperience is something the robot lived through.
	MemoryExperience MemoryType = "experience"

	// MemoryPersonFact is a fact about a specific person.
	MemoryPersonFact MemoryType = "person_fact"

	// MemoryGeneral is global knowledge not tied to anyone.
	MemoryGeneral MemoryType = "general"

	// MemoryZoneInfo describes a place in the home.
	MemoryZoneInfo MemoryType = "zone_info"
)

// ValidMemoryTypes lists every accepted memory type.
var ValidMemoryTypes = []MemoryType{
	MemoryExperience,
	MemoryPersonFact,
	MemoryGeneral,
	MemoryZoneInfo,
}

// IsValid reports whether t is one of the known memory types.
func (t MemoryType) IsValid() bool {
	for _, v := range ValidMemoryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Importance bounds for memories.
const (
	MinImportance = 1
	MaxImportance = 10
)

// Memory is a single recollection. A nil PersonID means the memory is global
// (belongs to the robot itself).
type Memory struct {
	ID         string     `json:"id"`
	Type       MemoryType `json:"memory_type"`
	Content    string     `json:"content"`
	PersonID   *string    `json:"person_id,omitempty"`
	ZoneID     *int64     `json:"zone_id,omitempty"`
	Importance int        `json:"importance"`
	Timestamp  time.Time  `json:"timestamp"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsActive reports whether the memory has not expired at time now.
func (m *Memory) IsActive(now time.Time) bool {
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// Subject returns the person id the memory is scoped to, or "" for global.
func (m *Memory) Subject() string {
	if m.PersonID == nil {
		return ""
	}
	return *m.PersonID
}

// Person is somebody the robot knows.
type Person struct {
	PersonID         string    `json:"person_id"`
	Name             string    `json:"name"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	InteractionCount int       `json:"interaction_count"`
	Notes            string    `json:"notes,omitempty"`
}

// FaceEmbeddingDim is the fixed length of a face embedding vector.
const FaceEmbeddingDim = 128

// FaceEmbedding is one captured face vector for a person. A person may own
// many of them.
type FaceEmbedding struct {
	ID                int64     `json:"id"`
	PersonID          string    `json:"person_id"`
	Embedding         []float32 `json:"embedding"`
	CapturedAt        time.Time `json:"captured_at"`
	LightingCondition string    `json:"lighting_condition,omitempty"`
}

// Role is the author of a conversation turn.
type Role string

// Conversation roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry in the global conversation log.
type ConversationTurn struct {
	ID        int64     `json:"id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Compacted bool      `json:"compacted"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneCategory classifies a zone.
type ZoneCategory string

// Zone categories
const (
	ZoneKitchen  ZoneCategory = "kitchen"
	ZoneLiving   ZoneCategory = "living"
	ZoneBedroom  ZoneCategory = "bedroom"
	ZoneBathroom ZoneCategory = "bathroom"
	ZoneUnknown  ZoneCategory = "unknown"
)

// NormalizeZoneCategory maps unknown values to ZoneUnknown.
func NormalizeZoneCategory(c string) ZoneCategory {
	switch ZoneCategory(c) {
	case ZoneKitchen, ZoneLiving, ZoneBedroom, ZoneBathroom:
		return ZoneCategory(c)
	}
	return ZoneUnknown
}

// Zone is a named place in the home.
type Zone struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Category      ZoneCategory `json:"category"`
	Description   string       `json:"description,omitempty"`
	Accessible    bool         `json:"accessible"`
	CurrentRobot  bool         `json:"current_robot_zone"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdatedAt time.Time    `json:"last_updated"`
}

// ZoneEdge is a directed connection between two zones. Distance is optional.
type ZoneEdge struct {
	ID            int64  `json:"id"`
	FromZoneID    int64  `json:"from_zone_id"`
	ToZoneID      int64  `json:"to_zone_id"`
	DirectionHint string `json:"direction_hint,omitempty"`
	DistanceCm    *int   `json:"distance_cm,omitempty"`
}
