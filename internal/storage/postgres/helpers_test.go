package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It is defined in the
// postgres package (not the _test package) so it has access to the unexported
// db field, and exported so that postgres_test can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE TABLE memories, conversation_turns, face_embeddings, people, zone_paths, zones
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate: %w", err)
	}
	return nil
}
