// Package backup takes consistent point-in-time snapshots of the robot's
// SQLite database and prunes old ones.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	filePrefix = "robi-"
	fileSuffix = ".db"
	stampFmt   = "20060102-150405.000000"
)

// Config holds snapshot settings.
type Config struct {
	// DBPath is the live SQLite database.
	DBPath string

	// Dir receives the snapshot files.
	Dir string

	// Keep is how many snapshots survive a prune (default: 24).
	Keep int

	// Verify runs an integrity check on every new snapshot.
	Verify bool
}

// Snapshot describes one snapshot file.
type Snapshot struct {
	Path      string
	Timestamp time.Time
	Size      int64
	Verified  bool
}

// Snapshotter creates and prunes snapshots of one database.
type Snapshotter struct {
	config Config
	now    func() time.Time
}

// New creates a snapshotter, creating Dir if needed.
func New(cfg Config) (*Snapshotter, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 24
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Snapshotter{config: cfg, now: time.Now}, nil
}

// Take writes a new snapshot with VACUUM INTO, which is consistent under WAL,
// then verifies it if configured and prunes old snapshots.
func (s *Snapshotter) Take(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(s.config.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	ts := s.now().UTC()
	path := filepath.Join(s.config.Dir, filePrefix+ts.Format(stampFmt)+fileSuffix)

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", s.config.DBPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = src.Close() }()

	if _, err := src.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	snap := &Snapshot{Path: path, Timestamp: ts, Size: info.Size()}

	if s.config.Verify {
		if err := Verify(ctx, path); err != nil {
			return snap, err
		}
		snap.Verified = true
	}

	if _, err := s.Prune(); err != nil {
		log.Printf("WARNING: backup: prune failed: %v", err)
	}
	return snap, nil
}

// List returns the snapshots in Dir, newest first. Timestamps come from the
// file names, so copies keep their order.
func (s *Snapshotter) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ts, err := time.Parse(stampFmt, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{
			Path:      filepath.Join(s.config.Dir, name),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Prune deletes all but the newest Keep snapshots and returns how many it
// removed.
func (s *Snapshotter) Prune() (int, error) {
	snaps, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(snaps) <= s.config.Keep {
		return 0, nil
	}

	removed := 0
	var lastErr error
	for _, snap := range snaps[s.config.Keep:] {
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return removed, nil
}

// Run takes a snapshot every interval until ctx is done.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("backup: snapshots every %v into %s", interval, s.config.Dir)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.Take(ctx)
			if err != nil {
				log.Printf("ERROR: backup: scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("backup: wrote %s (%d bytes, verified=%v)", snap.Path, snap.Size, snap.Verified)
		}
	}
}

// Verify runs SQLite's integrity check against a snapshot.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
