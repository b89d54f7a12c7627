package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQLStore implements Store on PostgreSQL via the pgx stdlib
// driver, for installs that centralize state in a shared database.
type PostgreSQLStore struct {
	db *sql.DB
}

func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, errors.New("postgres store requires a dsn")
	}
	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}
	s := &PostgreSQLStore{db: db}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	return s, nil
}

func (s *PostgreSQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS run_state(
		name TEXT PRIMARY KEY,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func (s *PostgreSQLStore) SetRunning(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_state(name, updated_at) VALUES($1, $2)
		 ON CONFLICT(name) DO UPDATE SET updated_at=EXCLUDED.updated_at`,
		name, time.Now().UTC())
	return err
}

func (s *PostgreSQLStore) ClearRunning(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_state WHERE name = $1`, name)
	return err
}

func (s *PostgreSQLStore) Snapshot(ctx context.Context) ([]Record, error) {
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

func (s *PostgreSQLStore) ReplaceAll(ctx context.Context, names []string) error {
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
			`INSERT INTO run_state(name, updated_at) VALUES($1, $2)`, name, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgreSQLStore) Close() error { return s.db.Close() }
