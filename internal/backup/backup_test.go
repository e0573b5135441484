package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDB writes a small WAL-mode database with three rows.
func createTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robi.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE memories (id TEXT PRIMARY KEY, content TEXT NOT NULL)`,
		`INSERT INTO memories VALUES ('a', 'likes tea'), ('b', 'has a cat'), ('c', 'works nights')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n))
	return n
}

// stepClock returns a clock that advances one minute per call.
func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(Config{DBPath: "x.db"})
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "backups")
	s, err := New(Config{DBPath: "x.db", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 24, s.config.Keep)
	assert.DirExists(t, dir)
}

func TestTake_CopiesAndVerifies(t *testing.T) {
	dbPath := createTestDB(t)
	s, err := New(Config{DBPath: dbPath, Dir: t.TempDir(), Verify: true})
	require.NoError(t, err)

	snap, err := s.Take(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Verified)
	assert.Positive(t, snap.Size)
	assert.Equal(t, 3, countRows(t, snap.Path))
	require.NoError(t, Verify(context.Background(), snap.Path))
}

func TestTake_MissingDatabase(t *testing.T) {
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "missing.db"), Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = s.Take(context.Background())
	assert.Error(t, err)
}

func TestListAndPrune(t *testing.T) {
	dbPath := createTestDB(t)
	dir := t.TempDir()
	s, err := New(Config{DBPath: dbPath, Dir: dir, Keep: 2})
	require.NoError(t, err)
	s.now = stepClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var taken []*Snapshot
	for i := 0; i < 4; i++ {
		snap, err := s.Take(context.Background())
		require.NoError(t, err)
		taken = append(taken, snap)
	}

	// Foreign files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "robi-garbage.db"), []byte("x"), 0o600))

	snaps, err := s.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2, "each Take prunes down to Keep")
	assert.Equal(t, taken[3].Path, snaps[0].Path, "newest first")
	assert.Equal(t, taken[2].Path, snaps[1].Path)
	assert.NoFileExists(t, taken[0].Path)
}

func TestVerify_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robi-bad.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o600))
	assert.Error(t, Verify(context.Background(), path))
}

func TestRun_StopsOnCancel(t *testing.T) {
	dbPath := createTestDB(t)
	s, err := New(Config{DBPath: dbPath, Dir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		snaps, err := s.List()
		return err == nil && len(snaps) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
