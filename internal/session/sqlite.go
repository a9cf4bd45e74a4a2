package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// SQLiteStore persists conversation state in SQLite, one row per thread.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			thread_id  TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL DEFAULT '',
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_tenant ON threads(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	`)
	if err != nil {
		return fmt.Errorf("session store: migrate: %w", err)
	}
	return nil
}

// Load returns the stored state for a thread, or a fresh default state
// if the thread has never been seen.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (protocol.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM threads WHERE thread_id = ?`, threadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return protocol.NewConversationState(threadID, ""), nil
	}
	if err != nil {
		return protocol.ConversationState{}, fmt.Errorf("session store: load: %w", err)
	}

	var st protocol.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return protocol.ConversationState{}, fmt.Errorf("session store: decode %q: %w", threadID, err)
	}
	return st, nil
}

// Save upserts the state for a thread.
func (s *SQLiteStore) Save(ctx context.Context, threadID string, st protocol.ConversationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session store: encode %q: %w", threadID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, tenant_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			tenant_id=excluded.tenant_id, state=excluded.state, updated_at=excluded.updated_at
	`, threadID, st.TenantID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	return nil
}

// DeleteExpired removes threads not touched since cutoff and reports how
// many were dropped.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("session store: delete expired: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Count returns the number of stored threads.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("session store: count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
