package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const snapshotPrefix = "speculo-snapshot-"

// Config holds snapshot service configuration.
type Config struct {
	// DBPath is the SQLite database file to snapshot.
	DBPath string

	// Dir is where snapshots are stored.
	Dir string

	// Interval between automated snapshots (default: 6h).
	Interval time.Duration

	// Keep is how many snapshots to retain, newest first (default: 14).
	Keep int
}

// Snapshot describes one stored snapshot file.
type Snapshot struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Service takes snapshots on a timer and prunes old ones.
type Service struct {
	dbPath   string
	dir      string
	interval time.Duration
	keep     int

	mu   sync.Mutex
	last time.Time
}

// NewService validates the config and prepares the snapshot directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 14
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}
	return &Service{
		dbPath:   cfg.DBPath,
		dir:      cfg.Dir,
		interval: cfg.Interval,
		keep:     cfg.Keep,
	}, nil
}

// Run snapshots on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: snapshot service started (interval=%v, dir=%s)", s.interval, s.dir)
	for {
		select {
		case <-ctx.Done():
			log.Println("backup: snapshot service stopping")
			return
		case <-ticker.C:
			if snap, err := s.SnapshotNow(); err != nil {
				log.Printf("backup: scheduled snapshot failed: %v", err)
			} else {
				log.Printf("backup: snapshot written: %s (%d bytes)", snap.Path, snap.Size)
			}
		}
	}
}

// SnapshotNow takes and verifies one snapshot, then prunes old ones.
func (s *Service) SnapshotNow() (*Snapshot, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	name := snapshotPrefix + time.Now().Format("20060102-150405.000000") + ".db"
	path := filepath.Join(s.dir, name)

	if err := snapshotSQLite(s.dbPath, path); err != nil {
		return nil, err
	}
	if err := verifySnapshot(path); err != nil {
		os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	s.mu.Lock()
	s.last = time.Now()
	s.mu.Unlock()

	if err := s.prune(); err != nil {
		// The snapshot itself succeeded.
		log.Printf("backup: pruning failed: %v", err)
	}

	return &Snapshot{Path: path, Timestamp: info.ModTime(), Size: info.Size()}, nil
}

// List returns stored snapshots, newest first.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotPrefix) || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:      filepath.Join(s.dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	return snaps, nil
}

// Restore replaces the database with a snapshot. A pre-restore snapshot of
// the current database is taken first and rolled back to when the restore
// fails partway. The store must be closed before calling this.
func (s *Service) Restore(snapshotPath string) error {
	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot not found: %w", err)
	}

	preRestore := s.dbPath + ".pre-restore"
	if _, err := os.Stat(s.dbPath); err == nil {
		if err := snapshotSQLite(s.dbPath, preRestore); err != nil {
			return fmt.Errorf("backup: failed to take pre-restore snapshot: %w", err)
		}
		defer os.Remove(preRestore)
	}

	if err := restoreSnapshot(snapshotPath, s.dbPath); err != nil {
		if _, statErr := os.Stat(preRestore); statErr == nil {
			if rbErr := restoreSnapshot(preRestore, s.dbPath); rbErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("backup: restore failed, rolled back: %w", err)
		}
		return err
	}

	log.Printf("backup: database restored from %s", snapshotPath)
	return nil
}

// LastSnapshot reports when the most recent snapshot completed. Zero when
// none have run yet.
func (s *Service) LastSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// prune deletes all but the newest keep snapshots.
func (s *Service) prune() error {
	snaps, err := s.List()
	if err != nil {
		return err
	}
	for _, snap := range snaps[min(s.keep, len(snaps)):] {
		if err := os.Remove(snap.Path); err != nil {
			log.Printf("backup: failed to remove old snapshot %s: %v", snap.Path, err)
		} else {
			log.Printf("backup: pruned old snapshot %s", snap.Path)
		}
	}
	return nil
}
