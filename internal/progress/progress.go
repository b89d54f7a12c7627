// Package progress carries incremental feedback from long-running
// lifecycle operations (image pulls, health polling) to whoever wants
// to display it. Sinks are push-only: the orchestrator emits and moves
// on, it never waits on a sink.
package progress

import (
	"sync"

	"github.com/google/uuid"
)

// Stage identifies the phase an operation is in.
type Stage string

const (
	StageSpawn  Stage = "spawn"
	StagePull   Stage = "pull"
	StageHealth Stage = "health"
	StageStop   Stage = "stop"
)

// Event is a single progress report. Percent is 0..100, or -1 when the
// operation has no meaningful completion ratio.
type Event struct {
	OpID    string `json:"op_id"`
	Service string `json:"service"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Sink receives events. Implementations must be safe for concurrent
// use and must not block.
type Sink interface {
	Publish(e Event)
}

// NewOpID returns a fresh operation identifier to correlate the events
// of one start/stop with each other.
func NewOpID() string { return uuid.NewString() }

// Func adapts a function to the Sink interface.
type Func func(e Event)

func (f Func) Publish(e Event) { f(e) }

// Nop discards all events.
var Nop Sink = Func(func(Event) {})

// Fanout delivers each event to every attached sink. Sinks can be
// attached after emission has begun; Publish and Add are safe to call
// concurrently.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.Publish(e)
	}
}
