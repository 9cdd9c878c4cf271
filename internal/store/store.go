package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/errors"
)

// Store owns the relational database. Reads go through a connection pool;
// writes are serialized through a single writer queue with contention retry.
type Store struct {
	db   *sql.DB
	path string

	// writeMu is the single writer queue.
	writeMu  sync.Mutex
	retryCfg errors.RetryConfig
	retries  errors.RetryCounters

	// writeEpoch increments on every committed write batch. destructiveEpoch
	// records the epoch of the last write that removed or replaced chunks.
	// The ANN index compares both against its build epoch (coherence
	// protocol).
	writeEpoch       atomic.Int64
	destructiveEpoch atomic.Int64

	closed atomic.Bool
}

// Open opens (or creates) the store at path and initializes the schema.
func Open(path string, cfg config.StorageConfig) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	if err := validateIntegrity(path); err != nil {
		return nil, errors.StorageCorrupt(fmt.Sprintf("integrity check failed for %s", path), err)
	}

	busyMillis := int64(5000)
	if cfg.BusyTimeout > 0 {
		busyMillis = cfg.BusyTimeout.Milliseconds()
	}
	cacheKB := 64 * 1024
	if cfg.CacheMB > 0 {
		cacheKB = cfg.CacheMB * 1024
	}

	// Per-connection pragmas ride the DSN so every pooled connection gets
	// WAL, foreign keys, and the busy timeout.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=cache_size(-%d)&_pragma=temp_store(MEMORY)",
		path, busyMillis, cacheKB)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(runtime.NumCPU() + 1)
	db.SetMaxIdleConns(runtime.NumCPU() + 1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	s.retryCfg = errors.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		s.retryCfg.MaxRetries = cfg.MaxRetries
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, s.classify("init schema", err)
	}
	return s, nil
}

// validateIntegrity checks an existing database file before opening it.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Close checkpoints the WAL and closes the pool.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// WriteEpoch returns the current write epoch.
func (s *Store) WriteEpoch() int64 { return s.writeEpoch.Load() }

// DestructiveEpoch returns the epoch of the last delete-or-update write.
func (s *Store) DestructiveEpoch() int64 { return s.destructiveEpoch.Load() }

// RetryCounters exposes the session retry counters.
func (s *Store) RetryCounters() *errors.RetryCounters { return &s.retries }

// write runs fn under the single writer queue with contention retry. fn
// reports whether the batch removed or replaced rows, which advances the
// destructive epoch consumed by the ANN coherence protocol.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) (destructive bool, err error)) error {
	if s.closed.Load() {
		return errors.StorageCorrupt("store is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var destructive bool
	err := errors.Retry(ctx, s.retryCfg, &s.retries, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return s.classify(op, err)
		}
		d, err := fn(tx)
		if err != nil {
			_ = tx.Rollback()
			return s.classify(op, err)
		}
		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return s.classify(op, err)
		}
		destructive = d
		return nil
	})
	if err != nil {
		return err
	}

	epoch := s.writeEpoch.Add(1)
	if destructive {
		s.destructiveEpoch.Store(epoch)
	}
	return nil
}

// classify maps driver errors onto the engine taxonomy. Lock contention is
// retryable; corruption is fatal.
func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "table is locked"):
		return errors.New(errors.ErrCodeStorageContended, op+": "+msg, err)
	case strings.Contains(msg, "malformed"),
		strings.Contains(msg, "corrupt"),
		strings.Contains(msg, "not a database"):
		slog.Error("storage_corrupt", slog.String("op", op), slog.String("error", msg))
		return errors.StorageCorrupt(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// GetState reads a key from engine_state ("" when absent).
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM engine_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", s.classify("get state", err)
	}
	return value, nil
}

// SetState writes a key into engine_state.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	return s.write(ctx, "set state", func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO engine_state(key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return false, err
	})
}

// sizeOnDisk sums the database file and its WAL/SHM side files.
func (s *Store) sizeOnDisk() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// nowISO formats a timestamp the way every TEXT time column stores it.
func nowISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// unixFloatToTime converts the REAL mtime column back to a time.
func unixFloatToTime(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
