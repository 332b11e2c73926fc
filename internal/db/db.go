package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/torfstack/twin/internal/logging"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Database is the request journal of an Orchestrator Node. It records
// what was answered; it is never read while serving requests.
type Database struct {
	db *sql.DB
}

// Entry is one journaled request. Sizes are nil for a side that had no
// file.
type Entry struct {
	RequestID  string
	Path       string
	Outcome    string
	LocalSize  *int64
	RemoteSize *int64
	CreatedAt  time.Time
}

func New(ctx context.Context, path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}
	sqlDb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// single writer; concurrent handlers queue on the pool
	sqlDb.SetMaxOpenConns(1)

	d := &Database{sqlDb}
	err = d.runMigrations(ctx)
	if err != nil {
		_ = sqlDb.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return d, nil
}

func (d *Database) runMigrations(ctx context.Context) error {
	err := goose.SetDialect("sqlite")
	if err != nil {
		return fmt.Errorf("could not set dialect 'sqlite': %w", err)
	}
	goose.SetLogger(logging.TwinLoggerGoose{})
	goose.SetBaseFS(embedMigrations)

	if err = goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *Database) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, path, outcome, local_size, remote_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Path, e.Outcome, e.LocalSize, e.RemoteSize, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("could not insert request %s: %w", e.RequestID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (d *Database) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT request_id, path, outcome, local_size, remote_size, created_at
		 FROM requests ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query requests: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Debugf("Could not close rows: %s", err)
		}
	}()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			local      sql.NullInt64
			remote     sql.NullInt64
			createdRaw string
		)
		if err = rows.Scan(&e.RequestID, &e.Path, &e.Outcome, &local, &remote, &createdRaw); err != nil {
			return nil, fmt.Errorf("could not scan request row: %w", err)
		}
		if local.Valid {
			e.LocalSize = &local.Int64
		}
		if remote.Valid {
			e.RemoteSize = &remote.Int64
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
			return nil, fmt.Errorf("could not parse created_at %q: %w", createdRaw, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
