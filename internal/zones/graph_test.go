package zones_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/internal/storage/sqlite"
	"github.com/scrypster/robi/internal/zones"
	"github.com/scrypster/robi/pkg/types"
)

func newTestGraph(t *testing.T) *zones.Graph {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return zones.NewGraph(store)
}

// mustZones creates the named zones and returns their ids by name.
func mustZones(t *testing.T, g *zones.Graph, names ...string) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, n := range names {
		z, _, err := g.GetOrCreate(context.Background(), n, "", "")
		require.NoError(t, err)
		out[n] = z.ID
	}
	return out
}

func mustEdge(t *testing.T, g *zones.Graph, from, to int64) {
	t.Helper()
	_, err := g.AddEdge(context.Background(), from, to, "", nil)
	require.NoError(t, err)
}

func hops(path []*types.ZoneEdge) [][2]int64 {
	out := make([][2]int64, len(path))
	for i, e := range path {
		out[i] = [2]int64{e.FromZoneID, e.ToZoneID}
	}
	return out
}

func TestGetOrCreate(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	z, created, err := g.GetOrCreate(ctx, "Kitchen", "kitchen", "fridge here")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.ZoneKitchen, z.Category)
	assert.True(t, z.Accessible)

	again, created, err := g.GetOrCreate(ctx, "Kitchen", "bedroom", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, z.ID, again.ID)
	assert.Equal(t, types.ZoneKitchen, again.Category, "existing zone is not modified")

	odd, _, err := g.GetOrCreate(ctx, "Attic", "garage", "")
	require.NoError(t, err)
	assert.Equal(t, types.ZoneUnknown, odd.Category)
}

func TestUpdateZone(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "hall")

	desc := "long corridor"
	closed := false
	z, err := g.UpdateZone(ctx, ids["hall"], zones.Update{Description: &desc, Accessible: &closed})
	require.NoError(t, err)
	assert.Equal(t, "long corridor", z.Description)
	assert.False(t, z.Accessible)

	_, err = g.UpdateZone(ctx, 999, zones.Update{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCurrentZone_SingleHolder(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "c")

	cur, err := g.CurrentZone(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	for _, n := range []string{"a", "b", "c", "a"} {
		_, err := g.SetCurrentZone(ctx, ids[n])
		require.NoError(t, err)
	}

	all, err := g.ListAll(ctx)
	require.NoError(t, err)
	holders := 0
	for _, z := range all {
		if z.CurrentRobot {
			holders++
			assert.Equal(t, "a", z.Name)
		}
	}
	assert.Equal(t, 1, holders)

	_, err = g.SetCurrentZone(ctx, 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	cur, err = g.CurrentZone(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids["a"], cur.ID)
}

func TestFindPath_ShortestHopCount(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "c", "d", "e")

	// Long route a→b→c→d and a shortcut a→e→d.
	mustEdge(t, g, ids["a"], ids["b"])
	mustEdge(t, g, ids["b"], ids["c"])
	mustEdge(t, g, ids["c"], ids["d"])
	mustEdge(t, g, ids["a"], ids["e"])
	mustEdge(t, g, ids["e"], ids["d"])

	path, err := g.FindPath(ctx, "a", "d")
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{ids["a"], ids["e"]}, {ids["e"], ids["d"]}}, hops(path))
}

func TestFindPath_TiesFollowInsertionOrder(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "c", "d")

	long := 1000
	_, err := g.AddEdge(ctx, ids["a"], ids["b"], "", &long)
	require.NoError(t, err)
	mustEdge(t, g, ids["a"], ids["c"])
	mustEdge(t, g, ids["c"], ids["d"])
	mustEdge(t, g, ids["b"], ids["d"])

	path, err := g.FindPath(ctx, "a", "d")
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{ids["a"], ids["b"]}, {ids["b"], ids["d"]}}, hops(path),
		"distance is ignored; first-discovered edge wins")
}

func TestFindPath_EmptyCases(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "island")
	mustEdge(t, g, ids["a"], ids["b"])

	cases := []struct{ from, to string }{
		{"a", "a"},      // identical
		{"a", "ghost"},  // unknown target
		{"ghost", "a"},  // unknown source
		{"b", "a"},      // edge only goes a→b
		{"a", "island"}, // unreachable
	}
	for _, c := range cases {
		path, err := g.FindPath(ctx, c.from, c.to)
		require.NoError(t, err)
		assert.NotNil(t, path)
		assert.Empty(t, path, "%s→%s", c.from, c.to)
	}
}

func TestFindPath_HandlesCycles(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "c")
	mustEdge(t, g, ids["a"], ids["b"])
	mustEdge(t, g, ids["b"], ids["a"])
	mustEdge(t, g, ids["b"], ids["c"])

	path, err := g.FindPath(ctx, "a", "c")
	require.NoError(t, err)
	assert.Len(t, path, 2)
}

func TestPathsForZone(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	ids := mustZones(t, g, "a", "b", "c")
	mustEdge(t, g, ids["a"], ids["b"])
	mustEdge(t, g, ids["c"], ids["b"])

	from, err := g.PathsFrom(ctx, ids["b"])
	require.NoError(t, err)
	assert.Empty(t, from)

	touching, err := g.PathsForZone(ctx, ids["b"])
	require.NoError(t, err)
	assert.Len(t, touching, 2)
}
