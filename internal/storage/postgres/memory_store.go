package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

const memoryColumns = `id, memory_type, content, person_id, zone_id, importance, timestamp, expires_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveMemory inserts a new memory.
func (s *Store) SaveMemory(ctx context.Context, m *types.Memory) error {
	if err := validateMemory(m); err != nil {
		return err
	}
	if err := insertMemory(ctx, s.db, m); err != nil {
		return fmt.Errorf("postgres: failed to save memory: %w", err)
	}
	return nil
}

func insertMemory(ctx context.Context, db execer, m *types.Memory) error {
	var personID sql.NullString
	if m.PersonID != nil {
		personID = nullableString(*m.PersonID)
	}
	var zoneID sql.NullInt64
	if m.ZoneID != nil {
		zoneID = sql.NullInt64{Int64: *m.ZoneID, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, string(m.Type), m.Content, personID, zoneID, m.Importance, m.Timestamp.UTC(), nullableTime(m.ExpiresAt))
	return err
}

func validateMemory(m *types.Memory) error {
	if m == nil {
		return storage.ErrInvalidInput
	}
	if m.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, m.Type)
	}
	if m.Importance < types.MinImportance || m.Importance > types.MaxImportance {
		return fmt.Errorf("%w: importance %d out of range", storage.ErrInvalidInput, m.Importance)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	m, err := scanMemory(s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}
	return m, nil
}

// QueryMemories lists memories matching q.
func (s *Store) QueryMemories(ctx context.Context, q storage.MemoryQuery) ([]*types.Memory, error) {
	var where []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch q.Scope {
	case storage.ScopeGlobal:
		where = append(where, "person_id IS NULL")
	case storage.ScopePerson:
		if q.PersonID == "" {
			return nil, fmt.Errorf("%w: person ID is required for person scope", storage.ErrInvalidInput)
		}
		where = append(where, "person_id = "+next(q.PersonID))
	}

	if len(q.Types) > 0 {
		names := make([]string, len(q.Types))
		for i, t := range q.Types {
			names[i] = string(t)
		}
		where = append(where, "memory_type = ANY("+next(pq.Array(names))+")")
	}

	if !q.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > "+next(q.Reference().UTC())+")")
	}

	if q.MinImportance > 0 {
		where = append(where, "importance >= "+next(q.MinImportance))
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.ByRecency {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY importance DESC, timestamp DESC, id DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT " + next(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}
	return requireOneRow(result)
}

// DeleteMemoriesForPerson removes every memory owned by personID.
func (s *Store) DeleteMemoriesForPerson(ctx context.Context, personID string) (int, error) {
	if personID == "" {
		return 0, fmt.Errorf("%w: person ID is required", storage.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE person_id = $1", personID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete memories: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// ReplaceMemories inserts replacement, then deletes oldIDs, in one transaction.
func (s *Store) ReplaceMemories(ctx context.Context, oldIDs []string, replacement *types.Memory) error {
	if err := validateMemory(replacement); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMemory(ctx, tx, replacement); err != nil {
			return fmt.Errorf("postgres: failed to insert replacement memory: %w", err)
		}
		if len(oldIDs) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ANY($1)", pq.Array(oldIDs)); err != nil {
			return fmt.Errorf("postgres: failed to delete replaced memories: %w", err)
		}
		return nil
	})
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var memoryType string
	var personID sql.NullString
	var zoneID sql.NullInt64
	var expiresAt sql.NullTime

	if err := row.Scan(&m.ID, &memoryType, &m.Content, &personID, &zoneID, &m.Importance, &m.Timestamp, &expiresAt); err != nil {
		return nil, err
	}

	m.Type = types.MemoryType(memoryType)
	m.Timestamp = m.Timestamp.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		m.ExpiresAt = &t
	}
	if personID.Valid {
		p := personID.String
		m.PersonID = &p
	}
	if zoneID.Valid {
		z := zoneID.Int64
		m.ZoneID = &z
	}
	return &m, nil
}
