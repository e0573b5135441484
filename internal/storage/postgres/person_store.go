package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

const personColumns = `person_id, name, first_seen, last_seen, interaction_count, notes`

// CreatePerson inserts a new person. Returns ErrConflict if the id is taken.
func (s *Store) CreatePerson(ctx context.Context, p *types.Person) error {
	if p == nil || p.PersonID == "" || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: person id and name are required", storage.ErrInvalidInput)
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = time.Now()
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = p.FirstSeen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO people (`+personColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.PersonID, p.Name, p.FirstSeen.UTC(), p.LastSeen.UTC(), p.InteractionCount, nullableString(p.Notes))
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: person %s", storage.ErrConflict, p.PersonID)
		}
		return fmt.Errorf("postgres: failed to create person: %w", err)
	}
	return nil
}

// GetPerson retrieves a person by id.
func (s *Store) GetPerson(ctx context.Context, personID string) (*types.Person, error) {
	return s.getPerson(ctx, `SELECT `+personColumns+` FROM people WHERE person_id = $1`, personID)
}

// FindPersonByName matches names case-insensitively.
func (s *Store) FindPersonByName(ctx context.Context, name string) (*types.Person, error) {
	return s.getPerson(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE LOWER(name) = LOWER($1)
		ORDER BY first_seen ASC
		LIMIT 1
	`, strings.TrimSpace(name))
}

func (s *Store) getPerson(ctx context.Context, query string, args ...any) (*types.Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get person: %w", err)
	}
	return p, nil
}

// ListPeople returns everyone, most recently seen first.
func (s *Store) ListPeople(ctx context.Context) ([]*types.Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personColumns+` FROM people ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list people: %w", err)
	}
	defer rows.Close()

	var out []*types.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchPerson records a new interaction.
func (s *Store) TouchPerson(ctx context.Context, personID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE people SET last_seen = $1, interaction_count = interaction_count + 1
		WHERE person_id = $2
	`, at.UTC(), personID)
	if err != nil {
		return fmt.Errorf("postgres: failed to touch person: %w", err)
	}
	return requireOneRow(result)
}

// RenamePerson corrects a person's display name.
func (s *Store) RenamePerson(ctx context.Context, personID, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", storage.ErrInvalidInput)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE people SET name = $1 WHERE person_id = $2`, name, personID)
	if err != nil {
		return fmt.Errorf("postgres: failed to rename person: %w", err)
	}
	return requireOneRow(result)
}

// CountPeopleWithPrefix counts person ids starting with prefix.
func (s *Store) CountPeopleWithPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM people WHERE LEFT(person_id, $1) = $2`, len(prefix), prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count people: %w", err)
	}
	return n, nil
}

// AddFaceEmbedding stores a face vector. The raw bytes are always written;
// the pgvector column is filled when the extension is present.
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

	raw := types.EncodeFaceEmbedding(e.Embedding)
	var row *sql.Row
	if s.pgvectorAvailable {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO face_embeddings (person_id, embedding, captured_at, lighting_condition, embedding_vec)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, e.PersonID, raw, e.CapturedAt.UTC(), nullableString(e.LightingCondition), pgvector.NewVector(e.Embedding))
	} else {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO face_embeddings (person_id, embedding, captured_at, lighting_condition)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, e.PersonID, raw, e.CapturedAt.UTC(), nullableString(e.LightingCondition))
	}

	if err := row.Scan(&e.ID); err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return storage.ErrNotFound
		}
		return fmt.Errorf("postgres: failed to add face embedding: %w", err)
	}
	return nil
}

// ListFaceEmbeddings returns a person's embeddings oldest first.
func (s *Store) ListFaceEmbeddings(ctx context.Context, personID string) ([]*types.FaceEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_id, embedding, captured_at, lighting_condition
		FROM face_embeddings WHERE person_id = $1 ORDER BY id ASC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list face embeddings: %w", err)
	}
	defer rows.Close()

	var out []*types.FaceEmbedding
	for rows.Next() {
		var e types.FaceEmbedding
		var raw []byte
		var lighting sql.NullString
		if err := rows.Scan(&e.ID, &e.PersonID, &raw, &e.CapturedAt, &lighting); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan face embedding: %w", err)
		}
		vec, err := types.DecodeFaceEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: corrupt face embedding %d: %w", e.ID, err)
		}
		e.Embedding = vec
		e.CapturedAt = e.CapturedAt.UTC()
		e.LightingCondition = lighting.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// NearestFaces returns the person ids whose stored embeddings are closest to
// v by cosine distance, nearest first. Requires pgvector.
func (s *Store) NearestFaces(ctx context.Context, v []float32, limit int) ([]string, error) {
	if !s.pgvectorAvailable {
		return nil, fmt.Errorf("postgres: pgvector not available")
	}
	if len(v) != types.FaceEmbeddingDim {
		return nil, fmt.Errorf("%w: embedding must have %d values", storage.ErrInvalidInput, types.FaceEmbeddingDim)
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id FROM face_embeddings
		WHERE embedding_vec IS NOT NULL
		ORDER BY embedding_vec <=> $1
		LIMIT $2
	`, pgvector.NewVector(v), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search faces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan face match: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanPerson(row rowScanner) (*types.Person, error) {
	var p types.Person
	var notes sql.NullString
	if err := row.Scan(&p.PersonID, &p.Name, &p.FirstSeen, &p.LastSeen, &p.InteractionCount, &notes); err != nil {
		return nil, err
	}
	p.FirstSeen = p.FirstSeen.UTC()
	p.LastSeen = p.LastSeen.UTC()
	p.Notes = notes.String
	return &p, nil
}
