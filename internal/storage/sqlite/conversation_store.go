package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

// AppendTurns stores conversation turns atomically, in argument order.
func (s *Store) AppendTurns(ctx context.Context, turns ...*types.ConversationTurn) error {
	for _, t := range turns {
		if t == nil || t.Content == "" {
			return fmt.Errorf("%w: turn content is required", storage.ErrInvalidInput)
		}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range turns {
			if err := insertTurn(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTurn(ctx context.Context, tx *sql.Tx, t *types.ConversationTurn) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (seq, role, content, compacted, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, t.Seq, string(t.Role), t.Content, t.Compacted, toUnix(t.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read turn id: %w", err)
	}
	t.ID = id
	return nil
}

// ListTurns returns the whole log ordered by seq.
func (s *Store) ListTurns(ctx context.Context) ([]*types.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, role, content, compacted, timestamp
		FROM conversation_turns ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var out []*types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var role string
		var ts int64
		if err := rows.Scan(&t.ID, &t.Seq, &role, &t.Content, &t.Compacted, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Role = types.Role(role)
		t.Timestamp = fromUnix(ts)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ReplaceTurns swaps a run of turns for a single summary turn. The old rows
// are deleted first so the summary may reuse one of their seq values.
func (s *Store) ReplaceTurns(ctx context.Context, oldIDs []int64, summary *types.ConversationTurn) error {
	if summary == nil || summary.Content == "" {
		return fmt.Errorf("%w: summary content is required", storage.ErrInvalidInput)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if len(oldIDs) > 0 {
			args := make([]any, len(oldIDs))
			for i, id := range oldIDs {
				args[i] = id
			}
			result, err := tx.ExecContext(ctx,
				"DELETE FROM conversation_turns WHERE id IN ("+placeholders(len(oldIDs))+")", args...)
			if err != nil {
				return fmt.Errorf("failed to delete compacted turns: %w", err)
			}
			if n, err := result.RowsAffected(); err == nil && int(n) != len(oldIDs) {
				return fmt.Errorf("%w: expected to replace %d turns, found %d", storage.ErrNotFound, len(oldIDs), n)
			}
		}
		return insertTurn(ctx, tx, summary)
	})
}
