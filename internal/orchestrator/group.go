package orchestrator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/jmallek/svcpilot/internal/history"
	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/state"
)

// rankGroups splits the registry's start-ordered definitions into
// consecutive same-rank groups.
func rankGroups(defs []registry.Definition) [][]registry.Definition {
	var groups [][]registry.Definition
	for _, d := range defs {
		n := len(groups)
		if n == 0 || groups[n-1][0].Rank != d.Rank {
			groups = append(groups, []registry.Definition{d})
			continue
		}
		groups[n-1] = append(groups[n-1], d)
	}
	return groups
}

// StartAllEnabled starts every enabled service, rank by rank. Services
// sharing a rank start concurrently; the next rank begins once the
// previous one has resolved. One service failing does not keep its
// peers or later ranks from starting. The error is the combination of
// every individual failure.
func (o *Orchestrator) StartAllEnabled(ctx context.Context) error {
	var all []error
	for _, group := range rankGroups(o.reg.All()) {
		g := new(errgroup.Group)
		errs := make([]error, len(group))
		for i, def := range group {
			if !def.Enabled {
				continue
			}
			g.Go(func() error {
				errs[i] = o.Start(ctx, def.Name)
				return nil
			})
		}
		_ = g.Wait()
		for _, err := range errs {
			if err != nil {
				all = append(all, err)
			}
		}
	}
	return errors.Join(all...)
}

// StopAll stops every non-stopped service in reverse rank order, each
// rank concurrently with independent timeouts. Persisted running marks
// are kept: a shutdown stop is not the user changing intent, and the
// marks are what resume restores on the next launch.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	groups := rankGroups(o.reg.All())
	var all []error
	for gi := len(groups) - 1; gi >= 0; gi-- {
		group := groups[gi]
		g := new(errgroup.Group)
		errs := make([]error, len(group))
		for i, def := range group {
			g.Go(func() error {
				errs[i] = o.stop(ctx, def.Name, false)
				return nil
			})
		}
		_ = g.Wait()
		for _, err := range errs {
			if err != nil {
				all = append(all, err)
			}
		}
	}
	return errors.Join(all...)
}

// SaveRunningState rewrites the persisted intent set to exactly the
// services that are currently running.
func (o *Orchestrator) SaveRunningState(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	var names []string
	for _, st := range o.StatusAll() {
		if st.State == state.Running.String() {
			names = append(names, st.Name)
		}
	}
	return o.store.ReplaceAll(ctx, names)
}

// ResumePreviouslyRunning starts the services that were marked running
// at the last shutdown, in rank order, restricted to services that
// still exist, opted into auto-resume, and are enabled. Stale marks
// for unknown services are dropped.
func (o *Orchestrator) ResumePreviouslyRunning(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	records, err := o.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	marked := make(map[string]bool, len(records))
	for _, r := range records {
		marked[r.Name] = true
	}

	var all []error
	for _, def := range o.reg.All() {
		if !marked[def.Name] {
			continue
		}
		delete(marked, def.Name)
		if !def.AutoResume || !def.Enabled {
			continue
		}
		if err := o.Start(ctx, def.Name); err != nil {
			all = append(all, err)
			continue
		}
		o.export(history.EventResume, def.Name, state.Running.String(), "")
	}
	for name := range marked {
		if err := o.store.ClearRunning(ctx, name); err != nil {
			o.logger.Warn("drop stale running mark failed", "service", name, "error", err)
		}
	}
	return errors.Join(all...)
}

// Close releases the orchestrator's resources. It does not stop
// services; call StopAll first when shutting everything down.
func (o *Orchestrator) Close() error {
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}
