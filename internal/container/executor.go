package container

import (
	"context"
	"os/exec"
)

// CommandExecutor builds the commands the runtime shells out to. The
// indirection exists so tests can substitute a fake docker binary.
type CommandExecutor interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// DefaultCommandExecutor runs commands with os/exec.
type DefaultCommandExecutor struct{}

func (e *DefaultCommandExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
