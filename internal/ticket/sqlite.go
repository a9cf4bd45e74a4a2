package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
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
		CREATE TABLE IF NOT EXISTS tickets (
			id            TEXT PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			tenant_id     TEXT NOT NULL DEFAULT '',
			issue_text    TEXT NOT NULL,
			bot_answer    TEXT NOT NULL DEFAULT '',
			user_name     TEXT NOT NULL DEFAULT '',
			user_email    TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'OPEN',
			assigned_to   TEXT NOT NULL DEFAULT 'HUMAN',
			admin_remarks TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_tenant ON tickets(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_thread ON tickets(thread_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *protocol.Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, thread_id, tenant_id, issue_text, bot_answer, user_name, user_email, status, assigned_to, admin_remarks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ThreadID, t.TenantID, t.IssueText, t.BotAnswer, t.UserName, t.UserEmail,
		string(t.Status), t.AssignedTo, t.AdminRemarks,
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, thread_id, tenant_id, issue_text, bot_answer, user_name, user_email, status, assigned_to, admin_remarks, created_at, updated_at FROM tickets WHERE id = ?`, id)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket %q not found", id)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	query := "SELECT id, thread_id, tenant_id, issue_text, bot_answer, user_name, user_email, status, assigned_to, admin_remarks, created_at, updated_at FROM tickets WHERE 1=1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.ThreadID != "" {
		query += " AND thread_id = ?"
		args = append(args, filter.ThreadID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Resolve(ctx context.Context, id, remarks string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tickets SET status = ?, admin_remarks = ?, updated_at = ? WHERE id = ?`,
		string(protocol.TicketResolved), remarks, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("ticket store: resolve: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q not found", id)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ticket store: delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q not found", id)
	}
	return nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[protocol.TicketStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[protocol.TicketStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ticket store: count scan: %w", err)
		}
		counts[protocol.TicketStatus(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.ThreadID, &t.TenantID, &t.IssueText, &t.BotAnswer,
		&t.UserName, &t.UserEmail, &status, &t.AssignedTo, &t.AdminRemarks,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = protocol.TicketStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}
