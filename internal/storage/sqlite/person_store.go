package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

const personColumns = `person_id, name, first_seen, last_seen, interaction_count, notes`

// CreatePerson inserts a new person. Returns ErrConflict if the id is taken.
func (s *Store) CreatePerson(ctx context.Context, p *types.Person) error {
	if p == nil || p.PersonID == "" || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: person id and name are required", storage.ErrInvalidInput)
	}

	now := time.Now()
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = p.FirstSeen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (`+personColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.PersonID, p.Name, toUnix(p.FirstSeen), toUnix(p.LastSeen), p.InteractionCount, nullableString(p.Notes))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: person %s", storage.ErrConflict, p.PersonID)
		}
		return fmt.Errorf("failed to create person: %w", err)
	}
	return nil
}

// GetPerson retrieves a person by id.
func (s *Store) GetPerson(ctx context.Context, personID string) (*types.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people WHERE person_id = ?`, personID)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

// FindPersonByName matches names case-insensitively.
func (s *Store) FindPersonByName(ctx context.Context, name string) (*types.Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE name = ? COLLATE NOCASE
		ORDER BY first_seen ASC
		LIMIT 1
	`, strings.TrimSpace(name))
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find person: %w", err)
	}
	return p, nil
}

// ListPeople returns everyone, most recently seen first.
func (s *Store) ListPeople(ctx context.Context) ([]*types.Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personColumns+` FROM people ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var out []*types.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchPerson records a new interaction.
func (s *Store) TouchPerson(ctx context.Context, personID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE people SET last_seen = ?, interaction_count = interaction_count + 1
		WHERE person_id = ?
	`, toUnix(at), personID)
	if err != nil {
		return fmt.Errorf("failed to touch person: %w", err)
	}
	return requireOneRow(result)
}

// RenamePerson corrects a person's display name.
func (s *Store) RenamePerson(ctx context.Context, personID, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", storage.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE people SET name = ? WHERE person_id = ?`, name, personID)
	if err != nil {
		return fmt.Errorf("failed to rename person: %w", err)
	}
	return requireOneRow(result)
}

// CountPeopleWithPrefix counts person ids starting with prefix.
func (s *Store) CountPeopleWithPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM people WHERE substr(person_id, 1, ?) = ?`, len(prefix), prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count people: %w", err)
	}
	return n, nil
}

// AddFaceEmbedding stores a face vector for an existing person.
func (s *Store) AddFaceEmbedding(ctx context.Context, e *types.FaceEmbedding) error {
	if e == nil || e.PersonID == "" {
		return fmt.Errorf("%w: person id is required", storage.ErrInvalidInput)
	}
	if len(e.Embedding) != types.FaceEmbeddingDim {
		return fmt.Errorf("%w: embedding must have %d values", storage.ErrInvalidInput, types.FaceEmbeddingDim)
	}
	if e.CapturedAt.IsZero() {
		e.CapturedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (person_id, embedding, captured_at, lighting_condition)
		VALUES (?, ?, ?, ?)
	`, e.PersonID, types.EncodeFaceEmbedding(e.Embedding), toUnix(e.CapturedAt), nullableString(e.LightingCondition))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to add face embedding: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read embedding id: %w", err)
	}
	e.ID = id
	return nil
}

// ListFaceEmbeddings returns a person's embeddings oldest first.
func (s *Store) ListFaceEmbeddings(ctx context.Context, personID string) ([]*types.FaceEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, embedding, captured_at, lighting_condition
		FROM face_embeddings WHERE person_id = ? ORDER BY id ASC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list face embeddings: %w", err)
	}
	defer rows.Close()

	var out []*types.FaceEmbedding
	for rows.Next() {
		var e types.FaceEmbedding
		var blob []byte
		var capturedAt int64
		var lighting sql.NullString
		if err := rows.Scan(&e.ID, &e.PersonID, &blob, &capturedAt, &lighting); err != nil {
			return nil, fmt.Errorf("failed to scan face embedding: %w", err)
		}
		vec, err := types.DecodeFaceEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt face embedding %d: %w", e.ID, err)
		}
		e.Embedding = vec
		e.CapturedAt = fromUnix(capturedAt)
		e.LightingCondition = lighting.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanPerson(row rowScanner) (*types.Person, error) {
	var p types.Person
	var firstSeen, lastSeen int64
	var notes sql.NullString
	if err := row.Scan(&p.PersonID, &p.Name, &firstSeen, &lastSeen, &p.InteractionCount, &notes); err != nil {
		return nil, err
	}
	p.FirstSeen = fromUnix(firstSeen)
	p.LastSeen = fromUnix(lastSeen)
	p.Notes = notes.String
	return &p, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
