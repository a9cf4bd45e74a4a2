package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) a SQLite database and runs migrations.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tenant registry: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("tenant registry: wal: %w", err)
	}

	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS tenants (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			active          INTEGER NOT NULL DEFAULT 1,
			allowed_domains TEXT NOT NULL DEFAULT '[]',
			created_at      TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("tenant registry: migrate: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Create(ctx context.Context, t *Tenant) error {
	domains, _ := json.Marshal(t.AllowedDomains)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, active, allowed_domains, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.Name, boolInt(t.Active), string(domains), t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("tenant registry: create: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, active, allowed_domains, created_at FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("tenant registry: get: %w", err)
	}
	return t, nil
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, active, allowed_domains, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("tenant registry: list: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("tenant registry: list scan: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *SQLiteRegistry) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tenants SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("tenant registry: set active: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrUnknownTenant
	}
	return nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("tenant registry: delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrUnknownTenant
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var t Tenant
	var active int
	var domains, createdAt string
	if err := row.Scan(&t.ID, &t.Name, &active, &domains, &createdAt); err != nil {
		return nil, err
	}
	t.Active = active != 0
	if err := json.Unmarshal([]byte(domains), &t.AllowedDomains); err != nil {
		return nil, fmt.Errorf("decode allowed domains: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
