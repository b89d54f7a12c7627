package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/state"
	"github.com/jmallek/svcpilot/internal/store"
)

func openTestStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(store.Config{Path: path})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return st
}

func storedNames(t *testing.T, st *store.SQLiteStore) []string {
	t.Helper()
	recs, err := st.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestRankGroups(t *testing.T) {
	defs := []registry.Definition{
		{Name: "a", Rank: 0}, {Name: "b", Rank: 0},
		{Name: "c", Rank: 1},
		{Name: "d", Rank: 3}, {Name: "e", Rank: 3},
	}
	groups := rankGroups(defs)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 || len(groups[2]) != 2 {
		t.Fatalf("group sizes = %d/%d/%d, want 2/1/2", len(groups[0]), len(groups[1]), len(groups[2]))
	}
	if rankGroups(nil) != nil {
		t.Fatal("no definitions should yield no groups")
	}
}

func TestStartAllRespectsRankAndEnabled(t *testing.T) {
	requireUnix(t)
	order := filepath.Join(t.TempDir(), "order")
	mark := func(name string) string {
		return "echo " + name + " >> " + order + " && sleep 60"
	}
	a := procDef("alpha", mark("alpha"))
	b := procDef("beta", mark("beta"))
	c := procDef("gamma", mark("gamma"))
	c.Rank = 1
	d := procDef("delta", mark("delta"))
	d.Enabled = false

	o := newOrch(t, nil, nil, a, b, c, d)
	ctx := context.Background()
	if err := o.StartAllEnabled(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	t.Cleanup(func() { _ = o.StopAll(ctx) })

	for _, name := range []string{"alpha", "beta", "gamma"} {
		st, _ := o.Status(name)
		if st.State != state.Running.String() {
			t.Fatalf("%s state = %s, want running", name, st.State)
		}
	}
	st, _ := o.Status("delta")
	if st.State != state.Stopped.String() {
		t.Fatalf("disabled service state = %s, want stopped", st.State)
	}

	data, err := os.ReadFile(order)
	if err != nil {
		t.Fatalf("read order file: %v", err)
	}
	lines := strings.Fields(strings.TrimSpace(string(data)))
	if len(lines) != 3 {
		t.Fatalf("order = %v, want three entries", lines)
	}
	if lines[2] != "gamma" {
		t.Fatalf("order = %v, want gamma last", lines)
	}
}

func TestStartAllCollectsFailuresWithoutBlockingPeers(t *testing.T) {
	requireUnix(t)
	good := procDef("alpha", "sleep 60")
	bad := procDef("beta", "/nonexistent/binary-path")
	later := procDef("gamma", "sleep 60")
	later.Rank = 1

	o := newOrch(t, nil, nil, good, bad, later)
	ctx := context.Background()
	err := o.StartAllEnabled(ctx)
	if err == nil {
		t.Fatal("expected the failed peer to surface")
	}
	t.Cleanup(func() { _ = o.StopAll(ctx) })

	st, _ := o.Status("alpha")
	if st.State != state.Running.String() {
		t.Fatalf("alpha state = %s, want running", st.State)
	}
	st, _ = o.Status("gamma")
	if st.State != state.Running.String() {
		t.Fatalf("later rank state = %s, want running", st.State)
	}
	st, _ = o.Status("beta")
	if st.State != state.Error.String() {
		t.Fatalf("beta state = %s, want error", st.State)
	}
}

func TestStopAllKeepsPersistedMarks(t *testing.T) {
	requireUnix(t)
	st := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	o := newOrch(t, st, nil, procDef("alpha", "sleep 60"), procDef("beta", "sleep 60"))
	t.Cleanup(func() { _ = o.Close() })
	ctx := context.Background()

	if err := o.StartAllEnabled(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if got := storedNames(t, st); len(got) != 2 {
		t.Fatalf("marks = %v, want both services", got)
	}

	if err := o.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	for _, name := range []string{"alpha", "beta"} {
		s, _ := o.Status(name)
		if s.State != state.Stopped.String() {
			t.Fatalf("%s state = %s, want stopped", name, s.State)
		}
	}
	// Shutdown is not the user changing intent; resume needs the marks.
	if got := storedNames(t, st); len(got) != 2 {
		t.Fatalf("marks after stop all = %v, want both kept", got)
	}
}

func TestSaveRunningState(t *testing.T) {
	requireUnix(t)
	st := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	o := newOrch(t, st, nil, procDef("alpha", "sleep 60"), procDef("beta", "sleep 60"))
	t.Cleanup(func() { _ = o.Close() })
	ctx := context.Background()

	if err := st.SetRunning(ctx, "leftover"); err != nil {
		t.Fatalf("seed mark: %v", err)
	}
	if err := o.Start(ctx, "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = o.StopAll(ctx) })

	if err := o.SaveRunningState(ctx); err != nil {
		t.Fatalf("save running state: %v", err)
	}
	got := storedNames(t, st)
	if len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("marks = %v, want exactly [alpha]", got)
	}
}

func TestResumePreviouslyRunning(t *testing.T) {
	requireUnix(t)
	dbPath := filepath.Join(t.TempDir(), "state.db")

	resumable := procDef("alpha", "sleep 60")
	resumable.AutoResume = true
	optedOut := procDef("beta", "sleep 60")

	// First launch: both running, then the host goes down.
	st1 := openTestStore(t, dbPath)
	o1 := newOrch(t, st1, nil, resumable, optedOut)
	ctx := context.Background()
	if err := o1.StartAllEnabled(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if err := o1.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if err := o1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second launch with a stale mark for a service that no longer exists.
	st2 := openTestStore(t, dbPath)
	if err := st2.SetRunning(ctx, "removed-service"); err != nil {
		t.Fatalf("seed stale mark: %v", err)
	}
	o2 := newOrch(t, st2, nil, resumable, optedOut)
	t.Cleanup(func() { _ = o2.Close() })

	if err := o2.ResumePreviouslyRunning(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	t.Cleanup(func() { _ = o2.StopAll(ctx) })

	s, _ := o2.Status("alpha")
	if s.State != state.Running.String() {
		t.Fatalf("alpha state = %s, want running", s.State)
	}
	s, _ = o2.Status("beta")
	if s.State != state.Stopped.String() {
		t.Fatalf("service without auto-resume state = %s, want stopped", s.State)
	}
	for _, name := range storedNames(t, st2) {
		if name == "removed-service" {
			t.Fatal("stale mark not dropped")
		}
	}
}
