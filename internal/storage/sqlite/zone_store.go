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

const zoneColumns = `id, name, category, description, accessible, current_robot_zone, created_at, last_updated`

// CreateZone inserts a zone and sets its ID.
func (s *Store) CreateZone(ctx context.Context, z *types.Zone) error {
	if z == nil || strings.TrimSpace(z.Name) == "" {
		return fmt.Errorf("%w: zone name is required", storage.ErrInvalidInput)
	}
	now := time.Now()
	if z.CreatedAt.IsZero() {
		z.CreatedAt = now
	}
	z.LastUpdatedAt = z.CreatedAt
	if z.Category == "" {
		z.Category = types.ZoneUnknown
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO zones (name, category, description, accessible, current_robot_zone, created_at, last_updated)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, z.Name, string(z.Category), nullableString(z.Description), z.Accessible, toUnix(z.CreatedAt), toUnix(z.LastUpdatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: zone %s", storage.ErrConflict, z.Name)
		}
		return fmt.Errorf("failed to create zone: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read zone id: %w", err)
	}
	z.ID = id
	z.CurrentRobot = false
	return nil
}

// GetZone retrieves a zone by id.
func (s *Store) GetZone(ctx context.Context, id int64) (*types.Zone, error) {
	return s.getZone(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = ?`, id)
}

// GetZoneByName retrieves a zone by its exact name.
func (s *Store) GetZoneByName(ctx context.Context, name string) (*types.Zone, error) {
	return s.getZone(ctx, `SELECT `+zoneColumns+` FROM zones WHERE name = ?`, name)
}

// GetCurrentZone returns the zone the robot is in.
func (s *Store) GetCurrentZone(ctx context.Context) (*types.Zone, error) {
	return s.getZone(ctx, `SELECT `+zoneColumns+` FROM zones WHERE current_robot_zone = 1 LIMIT 1`)
}

func (s *Store) getZone(ctx context.Context, query string, args ...any) (*types.Zone, error) {
	z, err := scanZone(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return z, nil
}

// UpdateZone writes a zone's mutable fields.
func (s *Store) UpdateZone(ctx context.Context, z *types.Zone) error {
	if z == nil {
		return storage.ErrInvalidInput
	}
	z.LastUpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE zones SET category = ?, description = ?, accessible = ?, last_updated = ?
		WHERE id = ?
	`, string(z.Category), nullableString(z.Description), z.Accessible, toUnix(z.LastUpdatedAt), z.ID)
	if err != nil {
		return fmt.Errorf("failed to update zone: %w", err)
	}
	return requireOneRow(result)
}

// ListZones returns every zone ordered by name.
func (s *Store) ListZones(ctx context.Context) ([]*types.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var out []*types.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// SetCurrentZone moves the robot's current-zone flag to id.
func (s *Store) SetCurrentZone(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM zones WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up zone: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE zones SET current_robot_zone = 0 WHERE current_robot_zone = 1`); err != nil {
			return fmt.Errorf("failed to clear current zone: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE zones SET current_robot_zone = 1, last_updated = ? WHERE id = ?`, toUnix(time.Now()), id); err != nil {
			return fmt.Errorf("failed to set current zone: %w", err)
		}
		return nil
	})
}

// AddEdge stores a directed edge between two existing zones.
func (s *Store) AddEdge(ctx context.Context, e *types.ZoneEdge) error {
	if e == nil || e.FromZoneID == 0 || e.ToZoneID == 0 {
		return fmt.Errorf("%w: both zone ids are required", storage.ErrInvalidInput)
	}
	var distance sql.NullInt64
	if e.DistanceCm != nil {
		distance = sql.NullInt64{Int64: int64(*e.DistanceCm), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO zone_paths (from_zone_id, to_zone_id, direction_hint, distance_cm)
		VALUES (?, ?, ?, ?)
	`, e.FromZoneID, e.ToZoneID, nullableString(e.DirectionHint), distance)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to add edge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read edge id: %w", err)
	}
	e.ID = id
	return nil
}

// ListEdges returns every edge in insertion order.
func (s *Store) ListEdges(ctx context.Context) ([]*types.ZoneEdge, error) {
	return s.listEdges(ctx, `SELECT id, from_zone_id, to_zone_id, direction_hint, distance_cm FROM zone_paths ORDER BY id ASC`)
}

// ListEdgesFrom returns edges leaving zoneID.
func (s *Store) ListEdgesFrom(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error) {
	return s.listEdges(ctx, `
		SELECT id, from_zone_id, to_zone_id, direction_hint, distance_cm FROM zone_paths
		WHERE from_zone_id = ? ORDER BY id ASC
	`, zoneID)
}

// ListEdgesForZone returns edges touching zoneID in either direction.
func (s *Store) ListEdgesForZone(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error) {
	return s.listEdges(ctx, `
		SELECT id, from_zone_id, to_zone_id, direction_hint, distance_cm FROM zone_paths
		WHERE from_zone_id = ? OR to_zone_id = ? ORDER BY id ASC
	`, zoneID, zoneID)
}

func (s *Store) listEdges(ctx context.Context, query string, args ...any) ([]*types.ZoneEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var out []*types.ZoneEdge
	for rows.Next() {
		var e types.ZoneEdge
		var hint sql.NullString
		var distance sql.NullInt64
		if err := rows.Scan(&e.ID, &e.FromZoneID, &e.ToZoneID, &hint, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.DirectionHint = hint.String
		if distance.Valid {
			d := int(distance.Int64)
			e.DistanceCm = &d
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanZone(row rowScanner) (*types.Zone, error) {
	var z types.Zone
	var category string
	var description sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&z.ID, &z.Name, &category, &description, &z.Accessible, &z.CurrentRobot, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	z.Category = types.NormalizeZoneCategory(category)
	z.Description = description.String
	z.CreatedAt = fromUnix(createdAt)
	z.LastUpdatedAt = fromUnix(updatedAt)
	return &z, nil
}
