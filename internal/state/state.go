// Package state implements the per-service lifecycle state machine.
// Legal paths are Stopped -> Starting -> {Running | Error},
// Running -> Stopping -> Stopped, Running -> Error (async crash), and
// Error -> Starting (explicit restart only). A stop requested while a
// start is in flight is queued and runs right after the start resolves.
package state

import (
	"sync"

	"github.com/jmallek/svcpilot/internal/svcerr"
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Machine guards one service's transitions. The zero value starts in
// Stopped. OnTransition, if set before use, is invoked after the lock
// is released for every applied transition.
type Machine struct {
	mu         sync.Mutex
	cur        State
	queuedStop bool

	OnTransition func(from, to State)
}

// Current returns the state without blocking on I/O.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// transition assigns the new state under the lock and returns the
// notification to run once the lock is released (nil when no observer
// or no change).
func (m *Machine) transition(to State) func() {
	from := m.cur
	m.cur = to
	if cb := m.OnTransition; cb != nil && from != to {
		return func() { cb(from, to) }
	}
	return nil
}

func runNotify(n func()) {
	if n != nil {
		n()
	}
}

// BeginStart claims the machine for a start attempt. It succeeds from
// Stopped and Error; Starting, Stopping, and Running are rejected with
// svcerr.ErrOperationInProgress (callers short-circuit Running as a
// no-op before claiming).
func (m *Machine) BeginStart() error {
	m.mu.Lock()
	switch m.cur {
	case Stopped, Error:
		m.queuedStop = false
		n := m.transition(Starting)
		m.mu.Unlock()
		runNotify(n)
		return nil
	default:
		m.mu.Unlock()
		return svcerr.ErrOperationInProgress
	}
}

// FinishStart resolves a start attempt: Running on success, Error
// otherwise. The return value reports whether a stop was queued while
// the start was in flight; the caller must then execute that stop
// immediately.
func (m *Machine) FinishStart(ok bool) (runQueuedStop bool) {
	m.mu.Lock()
	if m.cur != Starting {
		m.mu.Unlock()
		return false
	}
	var n func()
	if ok {
		n = m.transition(Running)
	} else {
		n = m.transition(Error)
	}
	q := m.queuedStop
	m.queuedStop = false
	m.mu.Unlock()
	runNotify(n)
	return q
}

// BeginStop claims the machine for a stop. From Running it moves to
// Stopping. From Starting the stop is queued (queued=true) so a slow
// start can be canceled without orphaning its resource. Stopping is
// rejected with svcerr.ErrOperationInProgress; Stopped and Error are
// no-ops for the caller (claimed == false, err == nil).
func (m *Machine) BeginStop() (claimed, queued bool, err error) {
	m.mu.Lock()
	switch m.cur {
	case Running:
		n := m.transition(Stopping)
		m.mu.Unlock()
		runNotify(n)
		return true, false, nil
	case Starting:
		m.queuedStop = true
		m.mu.Unlock()
		return false, true, nil
	case Stopping:
		m.mu.Unlock()
		return false, false, svcerr.ErrOperationInProgress
	default: // Stopped, Error
		m.mu.Unlock()
		return false, false, nil
	}
}

// BeginStopFromError claims a stop while in Error so a failed start's
// leftovers can be cleaned up. Returns false when not in Error.
func (m *Machine) BeginStopFromError() bool {
	m.mu.Lock()
	if m.cur != Error {
		m.mu.Unlock()
		return false
	}
	n := m.transition(Stopping)
	m.mu.Unlock()
	runNotify(n)
	return true
}

// FinishStop completes Stopping -> Stopped.
func (m *Machine) FinishStop() {
	m.mu.Lock()
	if m.cur != Stopping {
		m.mu.Unlock()
		return
	}
	n := m.transition(Stopped)
	m.mu.Unlock()
	runNotify(n)
}

// MarkCrashed applies the asynchronous Running -> Error transition
// when an exit notification arrives. It reports whether the transition
// was applied; an exit observed during Stopping is the expected one
// and is ignored.
func (m *Machine) MarkCrashed() bool {
	m.mu.Lock()
	if m.cur != Running {
		m.mu.Unlock()
		return false
	}
	n := m.transition(Error)
	m.mu.Unlock()
	runNotify(n)
	return true
}
