// Package orchestrator coordinates the lifecycle of every registered
// service: it owns the per-service state machines, serializes
// conflicting operations, persists the intended-to-run set, and fans
// lifecycle signals out to metrics, history and progress sinks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmallek/svcpilot/internal/container"
	"github.com/jmallek/svcpilot/internal/health"
	"github.com/jmallek/svcpilot/internal/history"
	"github.com/jmallek/svcpilot/internal/metrics"
	"github.com/jmallek/svcpilot/internal/procsup"
	"github.com/jmallek/svcpilot/internal/progress"
	"github.com/jmallek/svcpilot/internal/proxysup"
	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/state"
	"github.com/jmallek/svcpilot/internal/store"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Options configures an Orchestrator. Registry is required; everything
// else has a working default or is optional.
type Options struct {
	Registry *registry.Registry
	Runtime  *container.Runtime // defaults to the docker CLI runtime
	Store    store.Store        // optional persisted run state
	History  history.Sink       // optional lifecycle event export
	Progress progress.Sink      // optional operation feedback
	Logger   *slog.Logger
}

// Orchestrator is the single entry point for lifecycle operations.
// All methods are safe for concurrent use.
type Orchestrator struct {
	reg      *registry.Registry
	runtime  *container.Runtime
	store    store.Store
	hist     history.Sink
	progress *progress.Fanout
	logger   *slog.Logger

	running atomic.Int64

	mu      sync.Mutex
	records map[string]*record
}

// startOp is one in-flight start attempt. Concurrent callers attach to
// it and share its outcome instead of racing a second spawn.
type startOp struct {
	opID string
	done chan struct{}
	err  error
}

// record is the orchestrator's live view of one service.
type record struct {
	def registry.Definition
	sm  *state.Machine

	proc  *procsup.Supervisor
	cont  *container.Supervisor
	proxy *proxysup.Supervisor

	mu          sync.Mutex
	inflight    *startOp
	gen         int // bumped per start, stale exit watchers check it
	queuedClear bool
	lastErr     error
	startedAt   time.Time
	endpoint    string
	pid         int
	containerID string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("orchestrator requires a registry")
	}
	if opts.Runtime == nil {
		opts.Runtime = container.NewRuntime(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fan := new(progress.Fanout)
	fan.Add(opts.Progress)
	o := &Orchestrator{
		reg:      opts.Registry,
		runtime:  opts.Runtime,
		store:    opts.Store,
		hist:     opts.History,
		progress: fan,
		logger:   opts.Logger,
		records:  make(map[string]*record),
	}
	for _, def := range opts.Registry.All() {
		o.records[def.Name] = o.newRecord(def)
	}
	return o, nil
}

func (o *Orchestrator) newRecord(def registry.Definition) *record {
	rec := &record{def: def, sm: &state.Machine{}}
	switch def.Kind {
	case registry.KindProcess:
		rec.proc = procsup.New(def)
	case registry.KindContainer:
		rec.cont = container.NewSupervisor(o.runtime, def)
	case registry.KindProxy:
		rec.proxy = proxysup.New(def, o.logger)
	}
	rec.sm.OnTransition = func(from, to state.State) {
		metrics.RecordStateTransition(def.Name, from.String(), to.String())
		metrics.SetCurrentState(def.Name, from.String(), false)
		metrics.SetCurrentState(def.Name, to.String(), true)
		if to == state.Running {
			metrics.SetRunningServices(int(o.running.Add(1)))
		} else if from == state.Running {
			metrics.SetRunningServices(int(o.running.Add(-1)))
		}
		o.logger.Debug("state transition", "service", def.Name, "from", from.String(), "to", to.String())
	}
	return rec
}

// AddProgressSink attaches another destination for operation progress,
// for surfaces that connect after construction (the websocket hub).
func (o *Orchestrator) AddProgressSink(s progress.Sink) { o.progress.Add(s) }

func (o *Orchestrator) record(name string) (*record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[name]
	if !ok {
		return nil, svcerr.Wrap(name, svcerr.ErrNotFound)
	}
	return rec, nil
}

// Start brings the named service to Running: spawn, then readiness
// polling, then persistence. Starting an already-running service is a
// no-op. A concurrent Start on the same service attaches to the
// in-flight attempt and returns its outcome.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	rec, err := o.record(name)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if op := rec.inflight; op != nil {
		rec.mu.Unlock()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rec.sm.Current() == state.Running {
		rec.mu.Unlock()
		return nil
	}
	if err := rec.sm.BeginStart(); err != nil {
		rec.mu.Unlock()
		return svcerr.Wrap(name, err)
	}
	op := &startOp{opID: progress.NewOpID(), done: make(chan struct{})}
	rec.inflight = op
	rec.gen++
	gen := rec.gen
	rec.mu.Unlock()

	op.err = o.doStart(ctx, rec, op.opID, gen)

	runQueued := rec.sm.FinishStart(op.err == nil)
	if op.err == nil {
		o.afterStartSuccess(ctx, rec)
	} else {
		o.afterStartFailure(ctx, rec, op.err)
	}
	if runQueued {
		// a stop arrived while the start was in flight; run it before
		// releasing the waiters so Stop callers observe the final state
		rec.mu.Lock()
		clearPersist := rec.queuedClear
		rec.queuedClear = false
		rec.mu.Unlock()
		if op.err == nil {
			if claimed, _, _ := rec.sm.BeginStop(); claimed {
				_ = o.doStop(ctx, rec, clearPersist)
			}
		} else if rec.sm.BeginStopFromError() {
			_ = o.doStop(ctx, rec, clearPersist)
		}
	}

	rec.mu.Lock()
	rec.inflight = nil
	rec.mu.Unlock()
	close(op.done)
	return op.err
}

// doStart runs the spawn and health phases. State transitions and
// bookkeeping happen in the caller once the outcome is known.
func (o *Orchestrator) doStart(ctx context.Context, rec *record, opID string, gen int) error {
	def := rec.def
	began := time.Now()
	sctx, cancel := context.WithTimeout(ctx, def.StartTimeout)
	defer cancel()

	o.progress.Publish(progress.Event{
		OpID: opID, Service: def.Name, Stage: progress.StageSpawn,
		Message: "starting " + string(def.Kind), Percent: -1,
	})

	endpoint, err := o.spawn(sctx, rec, opID, gen)
	if err != nil {
		return svcerr.Wrap(def.Name, err)
	}

	prober, err := health.FromConfig(def.Probe)
	if err != nil {
		return svcerr.Wrap(def.Name, err)
	}
	if prober != nil {
		poller := health.Poller{Interval: def.Probe.Interval, MaxAttempts: def.Probe.MaxAttempts}
		timed := &timedProber{name: def.Name, kind: def.Probe.Type, inner: prober}
		perr := poller.Wait(sctx, timed, func(attempt, percent int) {
			o.progress.Publish(progress.Event{
				OpID: opID, Service: def.Name, Stage: progress.StageHealth,
				Message: fmt.Sprintf("waiting for %s (attempt %d/%d)", timed.inner.Describe(), attempt, def.Probe.MaxAttempts),
				Percent: percent,
			})
		})
		if perr != nil {
			if errors.Is(perr, context.DeadlineExceeded) {
				perr = svcerr.ErrHealthCheckTimedOut
			}
			// the resource came up but never got healthy; tear it down
			o.teardown(rec)
			return svcerr.Wrap(def.Name, perr)
		}
		o.export(history.EventHealthPassed, def.Name, state.Starting.String(), timed.inner.Describe())
	}

	rec.mu.Lock()
	rec.startedAt = time.Now()
	rec.endpoint = endpoint
	rec.lastErr = nil
	rec.mu.Unlock()

	metrics.ObserveStartDuration(def.Name, time.Since(began).Seconds())
	o.progress.Publish(progress.Event{
		OpID: opID, Service: def.Name, Stage: progress.StageHealth,
		Message: "healthy", Percent: 100,
	})
	return nil
}

// spawn launches the service's resource and wires the exit watcher.
// It returns the resolved endpoint, when one is known.
func (o *Orchestrator) spawn(ctx context.Context, rec *record, opID string, gen int) (string, error) {
	def := rec.def
	switch def.Kind {
	case registry.KindProcess:
		pid, exits, err := rec.proc.Start(ctx)
		if err != nil {
			return "", err
		}
		rec.mu.Lock()
		rec.pid = pid
		rec.mu.Unlock()
		go o.watchProcess(rec, gen, exits)
		return "", nil

	case registry.KindContainer:
		h, exits, err := rec.cont.Start(ctx, func(line string) {
			o.progress.Publish(progress.Event{
				OpID: opID, Service: def.Name, Stage: progress.StagePull,
				Message: line, Percent: -1,
			})
		})
		if err != nil {
			return "", err
		}
		rec.mu.Lock()
		rec.containerID = h.ID
		rec.mu.Unlock()
		go o.watchContainer(rec, gen, exits)
		return containerEndpoint(h), nil

	case registry.KindProxy:
		addr, exits, err := rec.proxy.Start(ctx)
		if err != nil {
			return "", err
		}
		go o.watchProxy(rec, gen, exits)
		return addr, nil
	}
	return "", fmt.Errorf("unknown service kind %q", def.Kind)
}

func containerEndpoint(h *container.Handle) string {
	for _, hp := range h.Ports {
		return fmt.Sprintf("127.0.0.1:%d", hp)
	}
	return ""
}

// afterStartSuccess records the write-through running mark and exports
// the start event.
func (o *Orchestrator) afterStartSuccess(ctx context.Context, rec *record) {
	def := rec.def
	metrics.IncStart(def.Name, string(def.Kind))
	if o.store != nil {
		if err := o.store.SetRunning(ctx, def.Name); err != nil {
			o.logger.Warn("persist running mark failed", "service", def.Name, "error", err)
		}
	}
	o.export(history.EventStart, def.Name, state.Running.String(), "")
	o.logger.Info("service started", "service", def.Name, "kind", string(def.Kind))
}

func (o *Orchestrator) afterStartFailure(ctx context.Context, rec *record, err error) {
	def := rec.def
	reason := failureReason(err)
	metrics.IncStartFailure(def.Name, reason)
	rec.mu.Lock()
	rec.lastErr = err
	rec.mu.Unlock()
	o.export(history.EventStartFailed, def.Name, state.Error.String(), err.Error())
	o.logger.Error("service start failed", "service", def.Name, "reason", reason, "error", err)
}

func failureReason(err error) string {
	switch {
	case svcerr.IsSpawn(err):
		return "spawn"
	case errors.Is(err, svcerr.ErrRuntimeUnavailable):
		return "runtime_unavailable"
	case errors.Is(err, svcerr.ErrHealthCheckTimedOut):
		return "health_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// Stop brings the named service to Stopped. Stopping a stopped service
// is a no-op. A stop that lands while a start is in flight is queued
// and executes right after the start resolves; this call waits for
// that to happen. Stop clears the persisted running mark: it is the
// user saying "I no longer want this running".
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	return o.stop(ctx, name, true)
}

func (o *Orchestrator) stop(ctx context.Context, name string, clearPersist bool) error {
	rec, err := o.record(name)
	if err != nil {
		return err
	}
	// The clear intent must be visible before the machine can report
	// the stop as queued: a start finishing concurrently reads
	// queuedClear right after FinishStart, so setting it afterwards
	// would let a user stop leave the running mark behind.
	rec.mu.Lock()
	prevClear := rec.queuedClear
	rec.queuedClear = prevClear || clearPersist
	claimed, queued, err := rec.sm.BeginStop()
	if queued {
		op := rec.inflight
		rec.mu.Unlock()
		if op != nil {
			select {
			case <-op.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	rec.queuedClear = prevClear
	rec.mu.Unlock()
	if err != nil {
		return svcerr.Wrap(name, err)
	}
	if !claimed {
		// Stopped already, or Error with possible leftovers to reap
		if rec.sm.BeginStopFromError() {
			return o.doStop(ctx, rec, clearPersist)
		}
		if clearPersist && o.store != nil {
			_ = o.store.ClearRunning(ctx, name)
		}
		return nil
	}
	return o.doStop(ctx, rec, clearPersist)
}

// doStop tears the resource down and completes the Stopping state. A
// forced kill still ends in Stopped; the escalation is surfaced as
// svcerr.ErrStopTimedOut.
func (o *Orchestrator) doStop(ctx context.Context, rec *record, clearPersist bool) error {
	def := rec.def
	opID := progress.NewOpID()
	o.progress.Publish(progress.Event{
		OpID: opID, Service: def.Name, Stage: progress.StageStop,
		Message: "stopping", Percent: -1,
	})

	stopErr := o.haltResource(ctx, rec)

	rec.sm.FinishStop()
	rec.mu.Lock()
	rec.startedAt = time.Time{}
	rec.endpoint = ""
	rec.pid = 0
	rec.containerID = ""
	rec.mu.Unlock()

	metrics.IncStop(def.Name, string(def.Kind))
	if clearPersist && o.store != nil {
		if err := o.store.ClearRunning(ctx, def.Name); err != nil {
			o.logger.Warn("clear running mark failed", "service", def.Name, "error", err)
		}
	}
	o.export(history.EventStop, def.Name, state.Stopped.String(), "")
	o.progress.Publish(progress.Event{
		OpID: opID, Service: def.Name, Stage: progress.StageStop,
		Message: "stopped", Percent: 100,
	})
	if stopErr != nil {
		o.logger.Warn("stop escalated", "service", def.Name, "error", stopErr)
		return svcerr.Wrap(def.Name, stopErr)
	}
	o.logger.Info("service stopped", "service", def.Name)
	return nil
}

func (o *Orchestrator) haltResource(ctx context.Context, rec *record) error {
	switch rec.def.Kind {
	case registry.KindProcess:
		return rec.proc.Stop(ctx, rec.def.StopTimeout)
	case registry.KindContainer:
		return rec.cont.Stop(ctx, rec.def.StopTimeout)
	case registry.KindProxy:
		return rec.proxy.Stop(ctx, rec.def.StopTimeout)
	}
	return nil
}

// teardown reaps a resource after a failed start, best effort.
func (o *Orchestrator) teardown(rec *record) {
	ctx, cancel := context.WithTimeout(context.Background(), rec.def.StopTimeout+5*time.Second)
	defer cancel()
	if err := o.haltResource(ctx, rec); err != nil {
		o.logger.Warn("teardown after failed start", "service", rec.def.Name, "error", err)
	}
}

// Restart stops the service if needed and starts it again. A restart
// issued during a start queues the stop first, same as Stop.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	if err := o.stop(ctx, name, false); err != nil && !errors.Is(err, svcerr.ErrStopTimedOut) {
		return err
	}
	return o.Start(ctx, name)
}

// Probe runs the service's readiness probe once, regardless of state.
// A nil error means the service answered.
func (o *Orchestrator) Probe(ctx context.Context, name string) error {
	rec, err := o.record(name)
	if err != nil {
		return err
	}
	prober, err := health.FromConfig(rec.def.Probe)
	if err != nil {
		return svcerr.Wrap(name, err)
	}
	if prober == nil {
		if o.aliveNow(ctx, rec) {
			return nil
		}
		return svcerr.Wrap(name, errors.New("service is not alive"))
	}
	pctx, cancel := context.WithTimeout(ctx, rec.def.Probe.Interval*2)
	defer cancel()
	if perr := prober.Probe(pctx); perr != nil {
		return svcerr.Wrap(name, perr)
	}
	return nil
}

func (o *Orchestrator) aliveNow(ctx context.Context, rec *record) bool {
	switch rec.def.Kind {
	case registry.KindProcess:
		return rec.proc.Alive()
	case registry.KindContainer:
		return rec.cont.Alive(ctx)
	case registry.KindProxy:
		return rec.proxy.Alive()
	}
	return false
}

// Inspect returns the engine's raw view of a container service's
// current container, for diagnostics.
func (o *Orchestrator) Inspect(ctx context.Context, name string) (map[string]any, error) {
	rec, err := o.record(name)
	if err != nil {
		return nil, err
	}
	if rec.def.Kind != registry.KindContainer {
		return nil, svcerr.Wrap(name, errors.New("not a container service"))
	}
	h := rec.cont.Handle()
	if h == nil {
		return nil, svcerr.Wrap(name, errors.New("no container is running"))
	}
	return o.runtime.Inspect(ctx, h.ID)
}

// Logs returns the service's captured output. Containers stream from
// the engine; processes read the rotating stdout file.
func (o *Orchestrator) Logs(ctx context.Context, name string, follow bool) (io.ReadCloser, error) {
	rec, err := o.record(name)
	if err != nil {
		return nil, err
	}
	if rec.def.Kind == registry.KindContainer {
		return rec.cont.Logs(ctx, follow)
	}
	path := rec.def.Log.StdoutFile(rec.def.Name)
	if path == "" {
		return nil, svcerr.Wrap(name, errors.New("service has no log file configured"))
	}
	return openLogFile(path)
}

// timedProber feeds probe durations into metrics.
type timedProber struct {
	name  string
	kind  string
	inner health.Prober
}

func (t *timedProber) Probe(ctx context.Context) error {
	began := time.Now()
	err := t.inner.Probe(ctx)
	metrics.ObserveProbeDuration(t.name, t.kind, time.Since(began).Seconds())
	return err
}

func (t *timedProber) Describe() string { return t.inner.Describe() }

// export sends a history event without blocking the lifecycle path.
func (o *Orchestrator) export(t history.EventType, service, st, detail string) {
	if o.hist == nil {
		return
	}
	e := history.Event{Type: t, OccurredAt: time.Now().UTC(), Service: service, State: st, Detail: detail}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.hist.Send(ctx, e); err != nil {
			o.logger.Warn("history export failed", "service", service, "event", string(t), "error", err)
		}
	}()
}
