package orchestrator

import (
	"os"
	"strconv"
	"time"

	"github.com/jmallek/svcpilot/internal/container"
	"github.com/jmallek/svcpilot/internal/history"
	"github.com/jmallek/svcpilot/internal/metrics"
	"github.com/jmallek/svcpilot/internal/procsup"
	"github.com/jmallek/svcpilot/internal/proxysup"
	"github.com/jmallek/svcpilot/internal/state"
)

// The watchers below consume the single exit notification of one run.
// An exit that was not prompted by a Stop moves the service to Error.
// The generation check discards notifications that arrive after a
// newer start has already replaced the resource.

func (o *Orchestrator) watchProcess(rec *record, gen int, exits <-chan procsup.ExitEvent) {
	ev, ok := <-exits
	if !ok {
		return
	}
	if rec.proc.StopRequested() {
		return
	}
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	o.onUnpromptedExit(rec, gen, detail)
}

func (o *Orchestrator) watchContainer(rec *record, gen int, exits <-chan container.ExitEvent) {
	ev, ok := <-exits
	if !ok {
		return
	}
	if rec.cont.StopRequested() {
		return
	}
	detail := ""
	if ev.Code != 0 {
		detail = "exit code " + strconv.Itoa(ev.Code)
	}
	o.onUnpromptedExit(rec, gen, detail)
}

func (o *Orchestrator) watchProxy(rec *record, gen int, exits <-chan proxysup.ExitEvent) {
	ev, ok := <-exits
	if !ok {
		return
	}
	if rec.proxy.StopRequested() {
		return
	}
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	o.onUnpromptedExit(rec, gen, detail)
}

func (o *Orchestrator) onUnpromptedExit(rec *record, gen int, detail string) {
	rec.mu.Lock()
	stale := rec.gen != gen
	rec.mu.Unlock()
	if stale {
		return
	}
	if !rec.sm.MarkCrashed() {
		return
	}
	rec.mu.Lock()
	rec.startedAt = time.Time{}
	rec.endpoint = ""
	rec.pid = 0
	rec.containerID = ""
	if detail != "" {
		rec.lastErr = &crashError{detail: detail}
	} else {
		rec.lastErr = &crashError{detail: "exited unexpectedly"}
	}
	rec.mu.Unlock()

	metrics.IncCrash(rec.def.Name)
	o.export(history.EventCrash, rec.def.Name, state.Error.String(), detail)
	o.logger.Error("service exited unexpectedly", "service", rec.def.Name, "detail", detail)
}

type crashError struct{ detail string }

func (e *crashError) Error() string { return e.detail }

func openLogFile(path string) (*os.File, error) {
	return os.Open(path) // #nosec G304
}
