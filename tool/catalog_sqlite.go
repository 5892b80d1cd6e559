package tool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteCatalogSchema = `
CREATE TABLE IF NOT EXISTS tool_catalog (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	description TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT '',
	command TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	registered_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

const defaultSQLiteCatalog = "catalog.db"

// SQLiteCatalog persists catalog records in SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// DefaultSQLiteCatalogPath returns ~/.petaltools/catalog.db.
func DefaultSQLiteCatalogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tool: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultCatalogDir, defaultSQLiteCatalog), nil
}

// NewSQLiteCatalog opens (or creates) a SQLite-backed catalog.
func NewSQLiteCatalog(dsn string) (*SQLiteCatalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("tool: sqlite catalog dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("tool: create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite catalog open: %w", err)
	}
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite catalog set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteCatalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: sqlite catalog create schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

// Record inserts or updates a record by name, keeping the first registered_at.
func (c *SQLiteCatalog) Record(ctx context.Context, rec CatalogRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || c.db == nil {
		return errors.New("tool: sqlite catalog is nil")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("tool: catalog record name is required")
	}

	now := time.Now().UTC()
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO tool_catalog (name, kind, description, origin, command, revision, registered_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	kind = excluded.kind,
	description = excluded.description,
	origin = excluded.origin,
	command = excluded.command,
	revision = excluded.revision,
	updated_at = excluded.updated_at`,
		rec.Name,
		string(rec.Kind),
		rec.Description,
		rec.Origin,
		rec.Command,
		rec.Revision,
		rec.RegisteredAt.Format(time.RFC3339Nano),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("tool: sqlite record catalog entry: %w", err)
	}
	return nil
}

// List returns all records in name order.
func (c *SQLiteCatalog) List(ctx context.Context) ([]CatalogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.db == nil {
		return nil, errors.New("tool: sqlite catalog is nil")
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT name, kind, description, origin, command, revision, registered_at, updated_at
FROM tool_catalog
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("tool: sqlite list catalog: %w", err)
	}
	defer rows.Close()

	recs := []CatalogRecord{}
	for rows.Next() {
		var (
			rec          CatalogRecord
			kind         string
			registeredAt string
			updatedAt    string
		)
		if err := rows.Scan(&rec.Name, &kind, &rec.Description, &rec.Origin, &rec.Command, &rec.Revision, &registeredAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("tool: sqlite scan catalog entry: %w", err)
		}
		rec.Kind = Kind(kind)
		if rec.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt); err != nil {
			return nil, fmt.Errorf("tool: sqlite parse registered_at for %s: %w", rec.Name, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("tool: sqlite parse updated_at for %s: %w", rec.Name, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool: sqlite catalog rows: %w", err)
	}
	return recs, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCatalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

var _ Catalog = (*SQLiteCatalog)(nil)
