package orchestrator

import (
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Status is a point-in-time view of one service.
type Status struct {
	Name        string        `json:"name"`
	Kind        registry.Kind `json:"kind"`
	State       string        `json:"state"`
	Enabled     bool          `json:"enabled"`
	PID         int           `json:"pid,omitempty"`
	ContainerID string        `json:"container_id,omitempty"`
	Endpoint    string        `json:"endpoint,omitempty"`
	Since       time.Time     `json:"since,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// Status reports the named service. It never blocks on the service
// itself.
func (o *Orchestrator) Status(name string) (Status, error) {
	o.mu.Lock()
	rec, ok := o.records[name]
	o.mu.Unlock()
	if !ok {
		return Status{}, svcerr.Wrap(name, svcerr.ErrNotFound)
	}
	return o.statusOf(rec), nil
}

// StatusAll reports every service in start order.
func (o *Orchestrator) StatusAll() []Status {
	defs := o.reg.All()
	out := make([]Status, 0, len(defs))
	o.mu.Lock()
	recs := make([]*record, 0, len(defs))
	for _, d := range defs {
		recs = append(recs, o.records[d.Name])
	}
	o.mu.Unlock()
	for _, rec := range recs {
		out = append(out, o.statusOf(rec))
	}
	return out
}

func (o *Orchestrator) statusOf(rec *record) Status {
	st := Status{
		Name:    rec.def.Name,
		Kind:    rec.def.Kind,
		Enabled: rec.def.Enabled,
		State:   rec.sm.Current().String(),
	}
	rec.mu.Lock()
	st.PID = rec.pid
	st.ContainerID = rec.containerID
	st.Endpoint = rec.endpoint
	st.Since = rec.startedAt
	if rec.lastErr != nil {
		st.LastError = rec.lastErr.Error()
	}
	rec.mu.Unlock()
	return st
}
