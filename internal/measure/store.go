package measure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the append-only measurement log. It has a single writer: the monitor.
type Store interface {
	// Append writes a batch. It returns once the batch is durable.
	Append(ctx context.Context, events []Event) error

	// All returns every event ordered by id.
	All(ctx context.Context) ([]Event, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)

	Close() error
}

// SQLiteStore keeps measurements in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// GenerationPath returns the store file for an optimizer generation.
func GenerationPath(dir string, generation int) string {
	return filepath.Join(dir, fmt.Sprintf("measurements-%d.db", generation))
}

// NewSQLiteStore opens (or creates) the store at path.
// It enables WAL mode for durability without blocking readers.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Recreate deletes any store at path and opens a fresh one.
func Recreate(path string) (*SQLiteStore, error) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return NewSQLiteStore(path)
}

// Path returns the file backing the store.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL,
		ts_start INTEGER NOT NULL,
		ts_end INTEGER NOT NULL,
		elapsed_micros INTEGER NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_measurements_tag ON measurements(tag);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create measurements table: %w", err)
	}
	return nil
}

// Append writes the batch in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (tag, ts_start, ts_end, elapsed_micros, generation)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.Tag, ev.Start.UnixMicro(), ev.End.UnixMicro(), ev.ElapsedMicros, ev.Generation,
		); err != nil {
			return fmt.Errorf("failed to insert measurement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit measurements: %w", err)
	}
	return nil
}

// All returns every event ordered by id.
func (s *SQLiteStore) All(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, ts_start, ts_end, elapsed_micros, generation
		FROM measurements ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			start, end int64
		)
		if err := rows.Scan(&ev.ID, &ev.Tag, &start, &end, &ev.ElapsedMicros, &ev.Generation); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		ev.Start = time.UnixMicro(start)
		ev.End = time.UnixMicro(end)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measurements: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM measurements").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return n, nil
}

var _ Store = (*SQLiteStore)(nil)
