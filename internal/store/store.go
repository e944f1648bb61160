// Package store persists global values (serialized documents and small
// configuration fields) in the settings key-value table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeyMetadataDocument = "metadata.document"
	KeyLastRefreshTime  = "library.last_refresh_time"
	KeyResourceCount    = "library.resource_count"
)

// Service reads and writes global values.
type Service struct {
	db *sql.DB
}

// NewService creates a store backed by the settings table.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetGlobalValue returns the value stored under key. The boolean is false
// when no row exists.
func (s *Service) GetGlobalValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

// SetGlobalValue upserts value under key.
func (s *Service) SetGlobalValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// SetGlobalValues upserts several keys in one transaction.
func (s *Service) SetGlobalValues(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	for key, value := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			key, value); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing values: %w", err)
	}
	return nil
}

// DeleteGlobalValue removes key. Deleting a missing key is not an error.
func (s *Service) DeleteGlobalValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
