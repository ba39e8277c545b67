package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using an embedded SQLite database.
// It uses modernc.org/sqlite which is pure Go (no CGO).
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex // serializes writes (SQLite is single-writer)
	retention time.Duration
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewSQLiteStore opens or creates the history database at path and runs
// schema migrations. With a positive retention, entries older than that are
// pruned in the background.
func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Single connection for writes to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		retention: retention,
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	if retention > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			profile TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL,
			api_level INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			is_error INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_started ON history(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_profile ON history(profile, started_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w\nSQL: %s", err, m)
		}
	}

	// Added after the first release.
	return s.addColumnIfNotExists("history", "director", "TEXT NOT NULL DEFAULT ''")
}

func (s *SQLiteStore) addColumnIfNotExists(table, column, def string) error {
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, def))
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return nil
	}
	return err
}

// cleanupLoop periodically removes entries older than the retention.
func (s *SQLiteStore) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := s.Prune(context.Background(), time.Now().Add(-s.retention)); err != nil {
			log.Warn().Err(err).Msg("pruning command history")
		}
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, profile, director, command, api_level, started_at, duration_ms, bytes, is_error, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Profile, e.Director, e.Command, e.APILevel, e.StartedAt.UTC(),
		e.Duration.Milliseconds(), e.Bytes, e.IsError, e.Error,
	)
	if err != nil {
		return fmt.Errorf("recording history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, profile, director, command, api_level, started_at, duration_ms, bytes, is_error, error_message
		FROM history WHERE 1 = 1`
	var args []any
	if f.Profile != "" {
		query += " AND profile = ?"
		args = append(args, f.Profile)
	}
	if f.ErrorsOnly {
		query += " AND is_error = 1"
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Profile, &e.Director, &e.Command, &e.APILevel,
			&e.StartedAt, &ms, &e.Bytes, &e.IsError, &e.Error); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE started_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		<-s.done
		err = s.db.Close()
	})
	return err
}
