// Package maintenance keeps the SQLite file that holds the metadata store
// healthy: periodic optimize and WAL checkpoint, plus rotating snapshots
// taken with VACUUM INTO.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Store keys written by the maintenance service.
const (
	KeyLastOptimize = "maintenance.last_optimize_at"
	KeyLastBackup   = "maintenance.last_backup_at"
)

const snapshotLayout = "20060102-150405"

var snapshotPattern = regexp.MustCompile(`^reelsync-\d{8}-\d{6}\.db$`)

// ValueStore is the subset of the metadata store used for bookkeeping.
type ValueStore interface {
	GetGlobalValue(ctx context.Context, key string) (string, bool, error)
	SetGlobalValue(ctx context.Context, key, value string) error
}

// Snapshot describes one backup file.
type Snapshot struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Status summarizes the database file and the last maintenance runs.
type Status struct {
	DBFileSize     int64      `json:"db_file_size"`
	WALFileSize    int64      `json:"wal_file_size"`
	PageCount      int64      `json:"page_count"`
	PageSize       int64      `json:"page_size"`
	DocumentBytes  int        `json:"document_bytes"`
	LastOptimizeAt string     `json:"last_optimize_at,omitempty"`
	LastBackupAt   string     `json:"last_backup_at,omitempty"`
	Snapshots      []Snapshot `json:"snapshots"`
}

// Service runs database maintenance.
type Service struct {
	db          *sql.DB
	store       ValueStore
	dbPath      string
	backupDir   string
	retention   int
	documentKey string
	logger      *slog.Logger
	now         func() time.Time
}

// Options configures a Service.
type Options struct {
	DBPath    string
	BackupDir string
	// Retention is the number of snapshots kept after each backup.
	Retention int
	// DocumentKey is the store key of the metadata document, reported by Status.
	DocumentKey string
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, store ValueStore, opts Options, logger *slog.Logger) *Service {
	if opts.Retention < 1 {
		opts.Retention = 1
	}
	return &Service{
		db:          db,
		store:       store,
		dbPath:      opts.DBPath,
		backupDir:   opts.BackupDir,
		retention:   opts.Retention,
		documentKey: opts.DocumentKey,
		logger:      logger.With(slog.String("component", "maintenance")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Status returns the current database and snapshot status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	if s.documentKey != "" {
		doc, _, err := s.store.GetGlobalValue(ctx, s.documentKey)
		if err != nil {
			return nil, err
		}
		st.DocumentBytes = len(doc)
	}
	var err error
	if st.LastOptimizeAt, _, err = s.store.GetGlobalValue(ctx, KeyLastOptimize); err != nil {
		return nil, err
	}
	if st.LastBackupAt, _, err = s.store.GetGlobalValue(ctx, KeyLastBackup); err != nil {
		return nil, err
	}

	if st.Snapshots, err = s.Snapshots(); err != nil {
		return nil, err
	}
	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}
	if err := s.store.SetGlobalValue(ctx, KeyLastOptimize, s.now().Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording optimize timestamp", "error", err)
	}
	s.logger.Info("optimize complete")
	return nil
}

// Backup writes a consistent snapshot of the database and prunes old ones.
func (s *Service) Backup(ctx context.Context) (*Snapshot, error) {
	if err := os.MkdirAll(s.backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.now()
	name := "reelsync-" + now.Format(snapshotLayout) + ".db"
	dest := filepath.Join(s.backupDir, name)
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	if err := s.store.SetGlobalValue(ctx, KeyLastBackup, now.Format(time.RFC3339)); err != nil {
		s.logger.Warn("recording backup timestamp", "error", err)
	}
	s.logger.Info("backup complete", slog.String("filename", name), slog.Int64("size", info.Size()))

	if err := s.prune(); err != nil {
		s.logger.Warn("pruning snapshots", "error", err)
	}
	return &Snapshot{Filename: name, Size: info.Size(), CreatedAt: now}, nil
}

// Snapshots lists backup files, newest first.
func (s *Service) Snapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	out := []Snapshot{}
	for _, e := range entries {
		if e.IsDir() || !snapshotPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "reelsync-"), ".db")
		created, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			created = info.ModTime().UTC()
		}
		out = append(out, Snapshot{Filename: e.Name(), Size: info.Size(), CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) prune() error {
	snaps, err := s.Snapshots()
	if err != nil {
		return err
	}
	if len(snaps) <= s.retention {
		return nil
	}
	for _, snap := range snaps[s.retention:] {
		if err := os.Remove(filepath.Join(s.backupDir, snap.Filename)); err != nil {
			s.logger.Warn("removing old snapshot", slog.String("filename", snap.Filename), slog.Any("error", err))
			continue
		}
		s.logger.Debug("pruned snapshot", slog.String("filename", snap.Filename))
	}
	return nil
}

// StartScheduler optimizes and snapshots the database every interval until
// ctx is canceled. A non-positive interval disables it.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info("maintenance scheduler started", slog.String("interval", interval.String()))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("maintenance scheduler stopped")
				return
			case <-ticker.C:
				if err := s.Optimize(ctx); err != nil {
					s.logger.Error("scheduled optimize failed", slog.Any("error", err))
				}
				if _, err := s.Backup(ctx); err != nil {
					s.logger.Error("scheduled backup failed", slog.Any("error", err))
				}
			}
		}
	}()
}
