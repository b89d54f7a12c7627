package container

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallek/svcpilot/internal/registry"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

func testDef() registry.Definition {
	return registry.Definition{
		Name:  "image-engine",
		Kind:  registry.KindContainer,
		Image: "svcpilot/image-engine:latest",
		Ports: []registry.PortMap{{Container: 8188, Host: 9188}},
	}
}

func TestSupervisorStartFailsBeforePullWhenEngineDown(t *testing.T) {
	requireUnix(t)
	fe := newFakeExecutor()
	fe.scripts["version"] = "exit 1"
	sup := NewSupervisor(NewRuntime(fe), testDef())

	_, _, err := sup.Start(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerr.ErrRuntimeUnavailable))
	assert.Empty(t, fe.callsFor("pull"), "no pull may run when the engine is down")
	assert.Empty(t, fe.callsFor("run"))
}

func TestSupervisorStartPullsMissingImage(t *testing.T) {
	requireUnix(t)
	fe := newFakeExecutor()
	fe.scripts["version"] = "echo 27.0.1"
	fe.scripts["image"] = "exit 1"
	fe.scripts["pull"] = "echo 'Status: Downloaded'"
	fe.scripts["rm"] = "exit 0"
	fe.scripts["run"] = "echo cid42"
	fe.scripts["wait"] = "sleep 60"
	fe.scripts["stop"] = "exit 0"
	sup := NewSupervisor(NewRuntime(fe), testDef())

	var pulled []string
	h, exits, err := sup.Start(context.Background(), func(line string) { pulled = append(pulled, line) })
	require.NoError(t, err)
	require.NotNil(t, exits)
	assert.Equal(t, "cid42", h.ID)
	assert.Equal(t, 9188, h.Ports[8188])
	assert.NotEmpty(t, pulled)
	assert.NotNil(t, sup.Handle())

	require.NoError(t, sup.Stop(context.Background(), 5*time.Second))
}

func TestSupervisorStartSkipsPullWhenImagePresent(t *testing.T) {
	requireUnix(t)
	fe := newFakeExecutor()
	fe.scripts["version"] = "echo 27.0.1"
	fe.scripts["image"] = "exit 0"
	fe.scripts["rm"] = "exit 0"
	fe.scripts["run"] = "echo cid43"
	fe.scripts["wait"] = "sleep 60"
	fe.scripts["stop"] = "exit 0"
	sup := NewSupervisor(NewRuntime(fe), testDef())

	_, _, err := sup.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, fe.callsFor("pull"))

	require.NoError(t, sup.Stop(context.Background(), 5*time.Second))
}

func TestSupervisorStopWithoutStartIsNoop(t *testing.T) {
	requireUnix(t)
	sup := NewSupervisor(NewRuntime(newFakeExecutor()), testDef())
	require.NoError(t, sup.Stop(context.Background(), time.Second))
	assert.True(t, sup.StopRequested())
}

func TestSupervisorForcedStopReportsTimeout(t *testing.T) {
	requireUnix(t)
	fe := newFakeExecutor()
	fe.scripts["version"] = "echo 27.0.1"
	fe.scripts["image"] = "exit 0"
	fe.scripts["rm"] = "exit 0"
	fe.scripts["run"] = "echo cid44"
	fe.scripts["wait"] = "sleep 60"
	sup := NewSupervisor(NewRuntime(fe), testDef())

	_, _, err := sup.Start(context.Background(), nil)
	require.NoError(t, err)

	fe.scripts["stop"] = "echo 'cannot stop container'; exit 1"
	err = sup.Stop(context.Background(), time.Second)
	assert.True(t, errors.Is(err, svcerr.ErrStopTimedOut))
	assert.Nil(t, sup.Handle())
}

func TestSupervisorStopSuppressesExitWatch(t *testing.T) {
	requireUnix(t)
	fe := newFakeExecutor()
	fe.scripts["version"] = "echo 27.0.1"
	fe.scripts["image"] = "exit 0"
	fe.scripts["rm"] = "exit 0"
	fe.scripts["run"] = "echo cid45"
	fe.scripts["wait"] = "sleep 60"
	fe.scripts["stop"] = "exit 0"
	sup := NewSupervisor(NewRuntime(fe), testDef())

	_, exits, err := sup.Start(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, sup.Stop(context.Background(), 5*time.Second))
	assert.True(t, sup.StopRequested())

	select {
	case _, open := <-exits:
		assert.False(t, open, "watch channel should close without an event")
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel did not close after stop")
	}
}
