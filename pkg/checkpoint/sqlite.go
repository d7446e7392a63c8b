package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	source_id           TEXT PRIMARY KEY,
	last_completed_page INTEGER NOT NULL,
	record_count        INTEGER NOT NULL,
	error_count         INTEGER NOT NULL,
	updated_at          TEXT NOT NULL
);
`

// SQLite is a durable checkpoint store backed by a local SQLite database.
// Writes for the same source are serialized with a per-source lock; keys
// for different sources are disjoint and need no coordination.
type SQLite struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLite opens (and if needed initializes) the checkpoint database at
// the given path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return &SQLite{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Load(ctx context.Context, sourceID string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_completed_page, record_count, error_count, updated_at
		FROM checkpoints WHERE source_id = ?`, sourceID)

	var state State
	var updatedAt string
	err := row.Scan(&state.LastCompletedPage, &state.RecordCount, &state.ErrorCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", sourceID, err)
	}

	if ts, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		state.UpdatedAt = ts
	}
	return &state, nil
}

func (s *SQLite) Save(ctx context.Context, sourceID string, state State) error {
	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (source_id, last_completed_page, record_count, error_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_completed_page = excluded.last_completed_page,
			record_count        = excluded.record_count,
			error_count         = excluded.error_count,
			updated_at          = excluded.updated_at
		WHERE excluded.last_completed_page >= checkpoints.last_completed_page`,
		sourceID, state.LastCompletedPage, state.RecordCount, state.ErrorCount,
		state.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", sourceID, err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context, sourceID string) error {
	lock := s.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear checkpoint %q: %w", sourceID, err)
	}
	return nil
}

func (s *SQLite) sourceLock(sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sourceID] = lock
	}
	return lock
}
