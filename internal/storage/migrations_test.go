package storage_test

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/scrypster/robi/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"001_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"002_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
		"002_gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
		"README.md":            {Data: []byte("ignored")},
	}
}

func TestMigrationManager_UpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	mgr, err := storage.NewMigrationManager(db, testMigrations(), storage.PlaceholderQuestion)
	require.NoError(t, err)

	_, err = mgr.Version()
	assert.ErrorIs(t, err, storage.ErrNoMigration)

	require.NoError(t, mgr.Up())
	require.NoError(t, mgr.Up())

	v, err := mgr.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	_, err = db.Exec("INSERT INTO gadgets (id) VALUES (1)")
	assert.NoError(t, err)
}

func TestMigrationManager_Down(t *testing.T) {
	db := openTestDB(t)
	mgr, err := storage.NewMigrationManager(db, testMigrations(), storage.PlaceholderQuestion)
	require.NoError(t, err)
	require.NoError(t, mgr.Up())
	require.NoError(t, mgr.Down())

	_, err = mgr.Version()
	assert.ErrorIs(t, err, storage.ErrNoMigration)
	_, err = db.Exec("INSERT INTO widgets (id) VALUES (1)")
	assert.Error(t, err)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	files := fstest.MapFS{
		"001_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"002_broken.up.sql": {Data: []byte("CREATE TABLE nope (")},
	}
	mgr, err := storage.NewMigrationManager(db, files, storage.PlaceholderQuestion)
	require.NoError(t, err)

	err = mgr.Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 2")

	v, err := mgr.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestNewMigrationManager_RequiresDB(t *testing.T) {
	_, err := storage.NewMigrationManager(nil, testMigrations(), storage.PlaceholderQuestion)
	assert.Error(t, err)
}
