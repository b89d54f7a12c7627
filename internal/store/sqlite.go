package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a local SQLite file. This is the
// default backend for single-host installs.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		// SQLite works best with a single writer connection.
		db.SetMaxOpenConns(1)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}
	s := &SQLiteStore{db: db}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS run_state(
		name TEXT PRIMARY KEY,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) SetRunning(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_state(name, updated_at) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at=excluded.updated_at`,
		name, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ClearRunning(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE name = ?`, name)
	return err
}

func (s *SQLiteStore) Snapshot(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, updated_at FROM run_state ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_state`); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_state(name, updated_at) VALUES(?, ?)`, name, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
