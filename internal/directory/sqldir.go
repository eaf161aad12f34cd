package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLDirectory implements Directory on top of database/sql. The same code
// serves Postgres (managed mode, pgx driver) and SQLite (standalone mode,
// modernc driver): lists are stored as JSON arrays in a text column, matching
// the shape of the original Supabase "clients" table.
type SQLDirectory struct {
	db          *sql.DB
	placeholder func(n int) string
}

// OpenPostgres opens a Postgres-backed directory.
func OpenPostgres(dsn string) (*SQLDirectory, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLDirectory{
		db:          db,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}, nil
}

// OpenSQLite opens (and if needed initializes) a SQLite-backed directory.
func OpenSQLite(path string) (*SQLDirectory, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has no external migration step in standalone mode.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tenants (
		outward_id TEXT PRIMARY KEY,
		blacklist  TEXT NOT NULL DEFAULT '[]',
		test       TEXT NOT NULL DEFAULT '[]'
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLDirectory{
		db:          db,
		placeholder: func(int) string { return "?" },
	}, nil
}

func (d *SQLDirectory) readList(ctx context.Context, column, tenantID string) ([]string, error) {
	// column is one of the two fixed names; never user input.
	query := fmt.Sprintf("SELECT %s FROM tenants WHERE outward_id = %s", column, d.placeholder(1))

	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, query, Normalize(tenantID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory read %s: %w", column, err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, fmt.Errorf("directory decode %s: %w", column, err)
	}
	return NormalizeAll(list), nil
}

func (d *SQLDirectory) Blacklist(ctx context.Context, tenantID string) ([]string, error) {
	return d.readList(ctx, "blacklist", tenantID)
}

func (d *SQLDirectory) TestList(ctx context.Context, tenantID string) ([]string, error) {
	return d.readList(ctx, "test", tenantID)
}

// AppendBlacklist performs the whole-list replace the store supports:
// read, append if missing, write back. Races between two appenders can lose
// one entry; the directive path retries on the next offending message, so a
// transaction is used where the driver supports it to keep this rare.
func (d *SQLDirectory) AppendBlacklist(ctx context.Context, tenantID, userID string) error {
	tenant := Normalize(tenantID)
	entry := Normalize(userID)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("directory begin: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("SELECT blacklist FROM tenants WHERE outward_id = %s", d.placeholder(1))
	var raw sql.NullString
	err = tx.QueryRowContext(ctx, query, tenant).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("directory read blacklist: %w", err)
	}

	var list []string
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
			return fmt.Errorf("directory decode blacklist: %w", err)
		}
	}
	list = NormalizeAll(list)
	for _, existing := range list {
		if existing == entry {
			return nil // already blocked
		}
	}
	list = append(list, entry)

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("directory encode blacklist: %w", err)
	}

	update := fmt.Sprintf("UPDATE tenants SET blacklist = %s WHERE outward_id = %s",
		d.placeholder(1), d.placeholder(2))
	if _, err := tx.ExecContext(ctx, update, string(data), tenant); err != nil {
		return fmt.Errorf("directory write blacklist: %w", err)
	}
	return tx.Commit()
}

// DB exposes the underlying handle for admin CLI operations.
func (d *SQLDirectory) DB() *sql.DB { return d.db }

func (d *SQLDirectory) Close() error { return d.db.Close() }
