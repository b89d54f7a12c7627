// Package svcpilot manages the local backend services of a desktop
// application: tool-server processes, a container-backed image engine,
// an in-process model proxy, and a voice agent. It supervises their
// lifecycles, checks readiness, and restores the previously running
// set after a host restart.
package svcpilot

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallek/svcpilot/internal/config"
	"github.com/jmallek/svcpilot/internal/container"
	"github.com/jmallek/svcpilot/internal/history"
	"github.com/jmallek/svcpilot/internal/history/factory"
	"github.com/jmallek/svcpilot/internal/logger"
	"github.com/jmallek/svcpilot/internal/metrics"
	"github.com/jmallek/svcpilot/internal/orchestrator"
	"github.com/jmallek/svcpilot/internal/progress"
	"github.com/jmallek/svcpilot/internal/registry"
	iapi "github.com/jmallek/svcpilot/internal/server"
	"github.com/jmallek/svcpilot/internal/store"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Definition = registry.Definition

type ProbeConfig = registry.ProbeConfig

type PortMap = registry.PortMap

type Kind = registry.Kind

const (
	KindProcess   = registry.KindProcess
	KindContainer = registry.KindContainer
	KindProxy     = registry.KindProxy
)

type Status = orchestrator.Status

type ProgressEvent = progress.Event

type ProgressSink = progress.Sink

type HistorySink = history.Sink

type StoreConfig = store.Config

// Pilot is a thin facade over the internal orchestrator. It provides a
// stable public API for embedding.
type Pilot struct{ inner *orchestrator.Orchestrator }

// Options configures a Pilot built from code rather than a config file.
type Options struct {
	Definitions []Definition
	Store       StoreConfig   // zero value disables persistence
	HistoryDSN  string        // empty disables history export
	Progress    ProgressSink  // nil discards progress
	Logger      *slog.Logger
}

// New builds a Pilot from explicit definitions.
func New(opts Options) (*Pilot, error) {
	reg, err := registry.New(opts.Definitions...)
	if err != nil {
		return nil, err
	}
	oopts := orchestrator.Options{
		Registry: reg,
		Runtime:  container.NewRuntime(nil),
		Progress: opts.Progress,
		Logger:   opts.Logger,
	}
	if opts.Store.Type != "" || opts.Store.Path != "" || opts.Store.DSN != "" {
		st, serr := store.New(opts.Store)
		if serr != nil {
			return nil, serr
		}
		if serr := st.EnsureSchema(context.Background()); serr != nil {
			_ = st.Close()
			return nil, serr
		}
		oopts.Store = st
	}
	if opts.HistoryDSN != "" {
		sink, herr := factory.NewSinkFromDSN(opts.HistoryDSN)
		if herr != nil {
			return nil, herr
		}
		oopts.History = sink
	}
	inner, err := orchestrator.New(oopts)
	if err != nil {
		return nil, err
	}
	return &Pilot{inner: inner}, nil
}

// Defaults returns the built-in service catalog.
func Defaults() []Definition { return registry.Defaults() }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*config.Config, error) { return config.Load(path) }

// NewFromConfig builds a Pilot and its logger from a loaded config.
func NewFromConfig(cfg *config.Config) (*Pilot, *slog.Logger, error) {
	log := cfg.Logger.NewSlogger()
	p, err := New(Options{
		Definitions: cfg.Definitions,
		Store:       cfg.Store,
		HistoryDSN:  cfg.History.DSN,
		Logger:      log,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, log, nil
}

func (p *Pilot) Start(ctx context.Context, name string) error   { return p.inner.Start(ctx, name) }
func (p *Pilot) Stop(ctx context.Context, name string) error    { return p.inner.Stop(ctx, name) }
func (p *Pilot) Restart(ctx context.Context, name string) error { return p.inner.Restart(ctx, name) }
func (p *Pilot) Probe(ctx context.Context, name string) error   { return p.inner.Probe(ctx, name) }
func (p *Pilot) Status(name string) (Status, error)             { return p.inner.Status(name) }
func (p *Pilot) StatusAll() []Status                            { return p.inner.StatusAll() }
func (p *Pilot) StartAllEnabled(ctx context.Context) error      { return p.inner.StartAllEnabled(ctx) }
func (p *Pilot) StopAll(ctx context.Context) error              { return p.inner.StopAll(ctx) }
func (p *Pilot) SaveRunningState(ctx context.Context) error     { return p.inner.SaveRunningState(ctx) }
func (p *Pilot) ResumePreviouslyRunning(ctx context.Context) error {
	return p.inner.ResumePreviouslyRunning(ctx)
}
func (p *Pilot) Inspect(ctx context.Context, name string) (map[string]any, error) {
	return p.inner.Inspect(ctx, name)
}
func (p *Pilot) Logs(ctx context.Context, name string, follow bool) (io.ReadCloser, error) {
	return p.inner.Logs(ctx, name, follow)
}
func (p *Pilot) Close() error { return p.inner.Close() }

// NewHTTPServer starts an HTTP server exposing the management API and
// wires its websocket progress broadcast into the orchestrator.
func NewHTTPServer(addr, basePath string, p *Pilot) (*http.Server, error) {
	srv, _ := iapi.NewServer(addr, basePath, p.inner)
	return srv, nil
}

// NewRouter returns an embeddable HTTP handler for the management API.
func NewRouter(p *Pilot, basePath string) *iapi.Router {
	return iapi.NewRouter(p.inner, basePath)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// DefaultLoggerConfig is a ready-to-use logging setup for embedders.
func DefaultLoggerConfig() logger.Config {
	return logger.Config{Slog: logger.SlogConfig{Level: logger.LevelInfo, Color: true}}
}
