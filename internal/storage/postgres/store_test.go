package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/robi/internal/storage"
	"github.com/scrypster/robi/internal/storage/postgres"
	"github.com/scrypster/robi/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If ROBI_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ROBI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROBI_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.NewStore(postgresTestDSN(t))
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ana := "persona_ana_01"

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveMemory(ctx, &types.Memory{
			ID: fmt.Sprintf("g%d", i), Type: types.MemoryGeneral, Content: "fact",
			Importance: 3 + i, Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.SaveMemory(ctx, &types.Memory{
		ID: "p1", Type: types.MemoryPersonFact, Content: "likes tea", PersonID: &ana,
		Importance: 8, Timestamp: base,
	}))

	general, err := store.QueryMemories(ctx, storage.MemoryQuery{Scope: storage.ScopeGlobal, Types: []types.MemoryType{types.MemoryGeneral}})
	require.NoError(t, err)
	require.Len(t, general, 3)
	assert.Equal(t, "g2", general[0].ID)

	repl := &types.Memory{ID: "merged", Type: types.MemoryGeneral, Content: "merged", Importance: 7, Timestamp: base}
	require.NoError(t, store.ReplaceMemories(ctx, []string{"g0", "g1"}, repl))
	general, err = store.QueryMemories(ctx, storage.MemoryQuery{Scope: storage.ScopeGlobal})
	require.NoError(t, err)
	assert.Len(t, general, 2)

	n, err := store.DeleteMemoriesForPerson(ctx, ana)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPeopleAndFaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePerson(ctx, &types.Person{PersonID: "persona_luis_01", Name: "Luis"}))
	assert.ErrorIs(t, store.CreatePerson(ctx, &types.Person{PersonID: "persona_luis_01", Name: "Luis"}), storage.ErrConflict)

	p, err := store.FindPersonByName(ctx, "LUIS")
	require.NoError(t, err)
	assert.Equal(t, "persona_luis_01", p.PersonID)

	vec := make([]float32, types.FaceEmbeddingDim)
	vec[3] = 1
	require.NoError(t, store.AddFaceEmbedding(ctx, &types.FaceEmbedding{PersonID: p.PersonID, Embedding: vec}))
	faces, err := store.ListFaceEmbeddings(ctx, p.PersonID)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, vec, faces[0].Embedding)

	if store.PgvectorAvailable() {
		matches, err := store.NearestFaces(ctx, vec, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"persona_luis_01"}, matches)
	}
}

func TestZonesAndTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &types.Zone{Name: "hall", Accessible: true}
	b := &types.Zone{Name: "kitchen", Category: types.ZoneKitchen, Accessible: true}
	require.NoError(t, store.CreateZone(ctx, a))
	require.NoError(t, store.CreateZone(ctx, b))
	require.NoError(t, store.AddEdge(ctx, &types.ZoneEdge{FromZoneID: a.ID, ToZoneID: b.ID}))
	require.NoError(t, store.SetCurrentZone(ctx, b.ID))
	assert.ErrorIs(t, store.SetCurrentZone(ctx, 12345), storage.ErrNotFound)

	cur, err := store.GetCurrentZone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", cur.Name)

	t1 := &types.ConversationTurn{Seq: 1, Role: types.RoleUser, Content: "hi"}
	t2 := &types.ConversationTurn{Seq: 2, Role: types.RoleAssistant, Content: "hello"}
	require.NoError(t, store.AppendTurns(ctx, t1))
	require.NoError(t, store.AppendTurns(ctx, t2))
	require.NoError(t, store.ReplaceTurns(ctx, []int64{t1.ID, t2.ID},
		&types.ConversationTurn{Seq: 1, Role: types.RoleAssistant, Content: "greeting", Compacted: true}))

	turns, err := store.ListTurns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Compacted)
}
