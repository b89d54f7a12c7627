// Package proxysup runs an in-process reverse proxy as a supervised
// service. The proxy forwards a local listen address to an upstream
// backend and participates in the same start/stop lifecycle as
// external processes and containers.
package proxysup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// ExitEvent is delivered when the proxy's serve loop ends for any
// reason other than a requested shutdown.
type ExitEvent struct {
	Err error
	At  time.Time
}

// Supervisor owns one reverse-proxy service instance.
type Supervisor struct {
	def    registry.Definition
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	addr     string
	stopping bool
}

func New(def registry.Definition, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{def: def, logger: logger}
}

// Start binds the listen address and serves the proxy in a background
// goroutine. A Listen port of 0 picks a free port; Addr reports the
// bound address. The returned channel delivers at most one ExitEvent.
func (s *Supervisor) Start(ctx context.Context) (string, <-chan ExitEvent, error) {
	upstream, err := url.Parse(s.def.Upstream)
	if err != nil {
		return "", nil, &svcerr.SpawnError{Err: fmt.Errorf("parse upstream %q: %w", s.def.Upstream, err)}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.def.Listen)
	if err != nil {
		return "", nil, &svcerr.SpawnError{Err: fmt.Errorf("listen %s: %w", s.def.Listen, err)}
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, perr error) {
		s.logger.Warn("proxy upstream error", "service", s.def.Name, "upstream", upstream.Host, "error", perr)
		w.WriteHeader(http.StatusBadGateway)
	}

	srv := &http.Server{Handler: proxy}
	addr := ln.Addr().String()

	s.mu.Lock()
	s.srv = srv
	s.addr = addr
	s.stopping = false
	s.mu.Unlock()

	exits := make(chan ExitEvent, 1)
	go func() {
		serveErr := srv.Serve(ln)
		if !errors.Is(serveErr, http.ErrServerClosed) {
			exits <- ExitEvent{Err: serveErr, At: time.Now()}
		}
		close(exits)
	}()
	return addr, exits, nil
}

// Stop shuts the proxy down gracefully, waiting for in-flight requests
// up to timeout before closing remaining connections.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	srv := s.srv
	s.stopping = true
	s.srv = nil
	s.addr = ""
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	shutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		srv.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return svcerr.ErrStopTimedOut
		}
		return err
	}
	return nil
}

// Addr returns the bound listen address, or "" when not running.
func (s *Supervisor) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Alive reports whether the proxy is currently serving.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// StopRequested reports whether the last shutdown was initiated by a
// Stop call.
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
