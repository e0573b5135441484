// Package zones manages the robot's map of the home: named zones, the
// directed paths between them, and which zone the robot is currently in.
package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/pkg/types"
)

// Graph is the zone graph service.
type Graph struct {
	store storage.ZoneStore
}

// NewGraph creates a zone graph over store.
func NewGraph(store storage.ZoneStore) *Graph {
	return &Graph{store: store}
}

// GetOrCreate returns the zone called name, creating it with the given
// category and description if it doesn't exist. The bool reports creation.
func (g *Graph) GetOrCreate(ctx context.Context, name, category, description string) (*types.Zone, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: zone name is required", storage.ErrInvalidInput)
	}

	z, err := g.store.GetZoneByName(ctx, name)
	if err == nil {
		return z, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	z = &types.Zone{
		Name:        name,
		Category:    types.NormalizeZoneCategory(category),
		Description: description,
		Accessible:  true,
	}
	if err := g.store.CreateZone(ctx, z); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race with another creator; theirs wins.
			existing, getErr := g.store.GetZoneByName(ctx, name)
			return existing, false, getErr
		}
		return nil, false, err
	}
	return z, true, nil
}

// Update carries optional changes to a zone. Nil fields are left alone.
type Update struct {
	Category    *string
	Description *string
	Accessible  *bool
}

// UpdateZone applies u to the zone with id.
func (g *Graph) UpdateZone(ctx context.Context, id int64, u Update) (*types.Zone, error) {
	z, err := g.store.GetZone(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Category != nil {
		z.Category = types.NormalizeZoneCategory(*u.Category)
	}
	if u.Description != nil {
		z.Description = *u.Description
	}
	if u.Accessible != nil {
		z.Accessible = *u.Accessible
	}
	if err := g.store.UpdateZone(ctx, z); err != nil {
		return nil, err
	}
	return z, nil
}

// ListAll returns every zone ordered by name.
func (g *Graph) ListAll(ctx context.Context) ([]*types.Zone, error) {
	return g.store.ListZones(ctx)
}

// SetCurrentZone makes id the robot's current zone. Unknown ids return
// storage.ErrNotFound and leave the previous current zone untouched.
func (g *Graph) SetCurrentZone(ctx context.Context, id int64) (*types.Zone, error) {
	if err := g.store.SetCurrentZone(ctx, id); err != nil {
		return nil, err
	}
	return g.store.GetZone(ctx, id)
}

// CurrentZone returns the robot's current zone, or nil when none is set.
func (g *Graph) CurrentZone(ctx context.Context) (*types.Zone, error) {
	z, err := g.store.GetCurrentZone(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return z, err
}

// AddEdge adds a directed path between two zones. distanceCm is optional.
func (g *Graph) AddEdge(ctx context.Context, fromID, toID int64, hint string, distanceCm *int) (*types.ZoneEdge, error) {
	e := &types.ZoneEdge{
		FromZoneID:    fromID,
		ToZoneID:      toID,
		DirectionHint: hint,
		DistanceCm:    distanceCm,
	}
	if err := g.store.AddEdge(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// PathsFrom returns the edges leaving a zone.
func (g *Graph) PathsFrom(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error) {
	return g.store.ListEdgesFrom(ctx, zoneID)
}

// PathsForZone returns every edge touching a zone.
func (g *Graph) PathsForZone(ctx context.Context, zoneID int64) ([]*types.ZoneEdge, error) {
	return g.store.ListEdgesForZone(ctx, zoneID)
}

// FindPath returns the fewest-hop sequence of edges from the zone named
// fromName to the zone named toName. Distances are ignored; among equally
// short paths the one reached first in edge insertion order wins. The result
// is empty when either zone is unknown, when they are the same zone, or when
// no directed path exists.
func (g *Graph) FindPath(ctx context.Context, fromName, toName string) ([]*types.ZoneEdge, error) {
	from, err := g.store.GetZoneByName(ctx, fromName)
	if errors.Is(err, storage.ErrNotFound) {
		return []*types.ZoneEdge{}, nil
	}
	if err != nil {
		return nil, err
	}
	to, err := g.store.GetZoneByName(ctx, toName)
	if errors.Is(err, storage.ErrNotFound) {
		return []*types.ZoneEdge{}, nil
	}
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return []*types.ZoneEdge{}, nil
	}

	// The graph is a single dwelling, so it is loaded whole per query.
	edges, err := g.store.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return shortestPath(edges, from.ID, to.ID), nil
}

// shortestPath runs a breadth-first search over the directed edges.
func shortestPath(edges []*types.ZoneEdge, from, to int64) []*types.ZoneEdge {
	adjacency := make(map[int64][]*types.ZoneEdge)
	for _, e := range edges {
		adjacency[e.FromZoneID] = append(adjacency[e.FromZoneID], e)
	}

	type step struct {
		zone int64
		path []*types.ZoneEdge
	}

	visited := map[int64]bool{from: true}
	queue := []step{{zone: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range adjacency[cur.zone] {
			if visited[e.ToZoneID] {
				continue
			}
			path := make([]*types.ZoneEdge, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			path = append(path, e)

			if e.ToZoneID == to {
				return path
			}
			visited[e.ToZoneID] = true
			queue = append(queue, step{zone: e.ToZoneID, path: path})
		}
	}
	return []*types.ZoneEdge{}
}
