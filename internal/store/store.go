package store

import (
	"context"
	"time"
)

// Record marks one service as intended-to-run. Name is unique across
// all managed services. UpdatedAt should be in UTC.
// The set of records IS the desired state, so resuming after a host
// restart only needs the names back.
type Record struct {
	Name      string
	UpdatedAt time.Time
}

// Store persists the set of services that were running when the host
// last shut down, so they can be resumed on the next launch.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	SetRunning(ctx context.Context, name string) error
	ClearRunning(ctx context.Context, name string) error
	Snapshot(ctx context.Context) ([]Record, error)
	ReplaceAll(ctx context.Context, names []string) error
	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	Type         string        `mapstructure:"type"` // "sqlite" or "postgres"
	Path         string        `mapstructure:"path"` // sqlite file path, ":memory:" when empty
	DSN          string        `mapstructure:"dsn"`  // postgres connection string
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `mapstructure:"conn_max_age"`
}
