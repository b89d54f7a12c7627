// Package procsup supervises one spawned child process: it owns the
// handle from spawn to exit, captures output, and reports exits
// asynchronously so the orchestrator can observe crashes.
package procsup

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// ExitEvent reports that the supervised process terminated for any
// reason, prompted or not.
type ExitEvent struct {
	PID int
	Err error // nil on exit status 0
	At  time.Time
}

// Supervisor owns at most one live child process at a time. All
// methods are safe for concurrent use.
type Supervisor struct {
	mu        sync.Mutex
	def       registry.Definition
	cmd       *exec.Cmd
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the monitor when Wait returns
	stopping  bool
}

func New(def registry.Definition) *Supervisor {
	return &Supervisor{def: def}
}

// Start spawns the child and begins monitoring it. The returned
// channel receives exactly one ExitEvent when the process terminates
// and is then closed. Spawn failures are reported as *svcerr.SpawnError.
func (s *Supervisor) Start(ctx context.Context) (int, <-chan ExitEvent, error) {
	s.mu.Lock()
	def := s.def
	s.mu.Unlock()

	cmd := buildCommand(def.Command)
	if def.WorkDir != "" {
		cmd.Dir = def.WorkDir
	}
	if len(def.Env) > 0 {
		cmd.Env = append(os.Environ(), def.Env...)
	}
	configureSysProcAttr(cmd)

	outW, errW, _ := def.Log.Writers(def.Name)
	if def.Log.Dir != "" {
		_ = os.MkdirAll(def.Log.Dir, 0o750)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := ctx.Err(); err != nil {
		closeWriter(outW)
		closeWriter(errW)
		return 0, nil, err
	}
	if err := cmd.Start(); err != nil {
		closeWriter(outW)
		closeWriter(errW)
		return 0, nil, &svcerr.SpawnError{Err: err}
	}

	waitDone := make(chan struct{})
	exits := make(chan ExitEvent, 1)

	s.mu.Lock()
	s.cmd = cmd
	s.outCloser = outW
	s.errCloser = errW
	s.waitDone = waitDone
	s.stopping = false
	s.mu.Unlock()

	pid := cmd.Process.Pid
	go s.monitor(cmd, pid, waitDone, exits)
	return pid, exits, nil
}

// monitor is the single goroutine allowed to call cmd.Wait for a run.
func (s *Supervisor) monitor(cmd *exec.Cmd, pid int, waitDone chan struct{}, exits chan ExitEvent) {
	err := cmd.Wait()
	close(waitDone)

	s.mu.Lock()
	if s.cmd == cmd {
		closeWriter(s.outCloser)
		closeWriter(s.errCloser)
		s.outCloser, s.errCloser = nil, nil
	}
	s.mu.Unlock()

	exits <- ExitEvent{PID: pid, Err: err, At: time.Now()}
	close(exits)
}

// Stop terminates the current child: graceful signal first, SIGKILL to
// the process group when timeout expires. It always returns; the forced
// path is reported as svcerr.ErrStopTimedOut. Stopping an already-dead
// process is a no-op.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.stopping = true
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if !alivePID(pid) {
		return nil
	}
	if timeout <= 0 {
		timeout = registry.DefaultStopTimeout
	}

	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		// caller is abandoning the wait; make sure nothing survives
		_ = signalGroup(pid, syscall.SIGKILL)
		return ctx.Err()
	case <-time.After(timeout):
	}

	_ = signalGroup(pid, syscall.SIGKILL)
	select {
	case <-waitDone:
	case <-time.After(killGrace):
		// best effort; the monitor will reap eventually
	}
	return svcerr.ErrStopTimedOut
}

// killGrace bounds the post-SIGKILL reap wait.
const killGrace = 2 * time.Second

// Alive is a non-blocking liveness check on the current handle.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return alivePID(cmd.Process.Pid)
}

// PID returns the current child's PID, or 0 when nothing was spawned.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// StopRequested reports whether the last Stop call preceded the
// current exit, letting callers distinguish crash from shutdown.
func (s *Supervisor) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func closeWriter(w io.WriteCloser) {
	if w != nil {
		_ = w.Close()
	}
}
