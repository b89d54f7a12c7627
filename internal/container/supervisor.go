package container

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Supervisor owns one container-backed service. It keeps the current
// handle, watches for unprompted exits, and maps the shared Runtime's
// results onto the orchestration error taxonomy.
type Supervisor struct {
	rt  *Runtime
	def registry.Definition

	mu          sync.Mutex
	handle      *Handle
	watchCancel context.CancelFunc
	stopping    bool
}

func NewSupervisor(rt *Runtime, def registry.Definition) *Supervisor {
	return &Supervisor{rt: rt, def: def}
}

// containerName is stable per service so stale containers from a
// previous run can be reclaimed.
func (s *Supervisor) containerName() string { return "svcpilot-" + s.def.Name }

// Start verifies the engine, pulls the image if absent (forwarding
// progress lines), creates and starts the container, and resolves
// dynamic ports. The returned channel delivers one ExitEvent when the
// container stops for any reason.
func (s *Supervisor) Start(ctx context.Context, onPull func(line string)) (*Handle, <-chan ExitEvent, error) {
	if !s.rt.Available(ctx) {
		return nil, nil, &Error{
			Type:      ErrorTypeRuntimeUnavailable,
			Operation: "start",
			Message:   "container engine is not reachable",
		}
	}
	if !s.rt.HasImage(ctx, s.def.Image) {
		if err := s.rt.Pull(ctx, s.def.Image, onPull); err != nil {
			return nil, nil, err
		}
	}

	spec := RunSpec{
		Name:    s.containerName(),
		Image:   s.def.Image,
		Env:     s.def.Env,
		Volumes: s.def.Volumes,
		Ports:   make(map[int]int, len(s.def.Ports)),
	}
	for _, p := range s.def.Ports {
		spec.Ports[p.Container] = p.Host
	}
	h, err := s.rt.Run(ctx, spec)
	if err != nil {
		return nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	exits := s.rt.WaitExit(watchCtx, h.ID)

	s.mu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.handle = h
	s.watchCancel = cancel
	s.stopping = false
	s.mu.Unlock()

	return h, exits, nil
}

// Stop gracefully stops the current container, falling back to forced
// removal. The forced path ends Stopped but is reported as
// svcerr.ErrStopTimedOut so callers can log the escalation.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	h := s.handle
	cancel := s.watchCancel
	s.stopping = true
	s.handle = nil
	s.watchCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h == nil {
		return nil
	}
	forced, err := s.rt.Stop(ctx, h.ID, timeout)
	if err != nil {
		return err
	}
	if forced {
		return svcerr.ErrStopTimedOut
	}
	return nil
}

// Alive reports whether the current container is running.
func (s *Supervisor) Alive(ctx context.Context) bool {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return false
	}
	return s.rt.Running(ctx, h.ID)
}

// Handle returns the current handle, or nil when nothing is running.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// StopRequested reports whether the last observed exit was prompted by
// a Stop call.
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Logs streams the current container's output for diagnostics.
func (s *Supervisor) Logs(ctx context.Context, follow bool) (io.ReadCloser, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil, &Error{Type: ErrorTypeContainerNotFound, Operation: "logs", Message: "service has no running container"}
	}
	return s.rt.Logs(ctx, h.ID, follow)
}
