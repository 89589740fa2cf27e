// Package sqlite provides the SQLite-backed key-value store for the relay.
// Expiry is enforced locally: expired rows are invisible to Get and removed
// lazily on read plus periodically by the sweep loop.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/anonrelay/internal/platform/storage/sqlitemigrate"
	relaystorage "github.com/louisbranch/anonrelay/internal/relay/storage"
	"github.com/louisbranch/anonrelay/internal/relay/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for relay key-value rows.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

// Open opens and migrates a relay SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, clock: time.Now}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads a value by key. Expired rows are deleted and reported as missing.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_entries WHERE key = ?`, key)
	var value string
	var expiresAt int64
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return "", relaystorage.ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}

	if expiresAt > 0 && expiresAt <= s.now().Unix() {
		if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ? AND expires_at = ?`, key, expiresAt); err != nil {
			return "", fmt.Errorf("expire %s: %w", key, err)
		}
		return "", relaystorage.ErrNotFound
	}
	return value, nil
}

// Put stores a value. A ttl of zero or less stores the value without expiry.
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes every row whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM kv_entries WHERE expires_at > 0 AND expires_at <= ?`,
		now.Unix(),
	); err != nil {
		return fmt.Errorf("delete expired: %w", err)
	}
	return nil
}

// StartSweep launches a background loop that removes expired rows on the
// given interval until the context ends.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration) {
	if s == nil || s.sqlDB == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.DeleteExpired(ctx, s.now())
			}
		}
	}()
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
