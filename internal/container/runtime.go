// Package container supervises container-backed services through the
// docker CLI. Everything goes through a CommandExecutor so tests can
// substitute a fake binary; no docker SDK is linked in.
package container

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Handle identifies one running container and its resolved port
// mappings (container port -> host port).
type Handle struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Ports map[int]int `json:"ports"`
}

// ExitEvent reports that a container stopped for any reason.
type ExitEvent struct {
	ID   string
	Code int
	At   time.Time
}

// Runtime drives the docker engine. One Runtime is shared by all
// container supervisors.
type Runtime struct {
	executor CommandExecutor
}

func NewRuntime(executor CommandExecutor) *Runtime {
	if executor == nil {
		executor = &DefaultCommandExecutor{}
	}
	return &Runtime{executor: executor}
}

// Available reports whether the docker daemon answers. Every container
// operation is gated on this so failures happen fast, before any pull
// is attempted.
func (r *Runtime) Available(ctx context.Context) bool {
	cmd := r.executor.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// HasImage reports whether the image exists locally.
func (r *Runtime) HasImage(ctx context.Context, image string) bool {
	cmd := r.executor.CommandContext(ctx, "docker", "image", "inspect", image)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// Pull fetches the image, forwarding the CLI's progress lines to
// onLine (which may be nil and must not block).
func (r *Runtime) Pull(ctx context.Context, image string, onLine func(line string)) error {
	cmd := r.executor.CommandContext(ctx, "docker", "pull", image)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return &Error{Type: ErrorTypeRuntimeUnavailable, Operation: "pull", Message: "failed to invoke docker", Underlying: err}
	}
	var tail []string
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Text()
		if onLine != nil {
			onLine(line)
		}
		tail = append(tail, line)
		if len(tail) > 10 {
			tail = tail[1:]
		}
	}
	if err := cmd.Wait(); err != nil {
		out := strings.Join(tail, "\n")
		return &Error{
			Type:       classify(out, err),
			Operation:  "pull",
			Message:    fmt.Sprintf("failed to pull image %s", image),
			Underlying: err,
			Output:     out,
		}
	}
	return nil
}

// RunSpec is what Run needs to create and start a container.
type RunSpec struct {
	Name    string
	Image   string
	Env     []string
	Volumes []string
	// Ports maps container port -> requested host port; 0 asks the
	// engine for a dynamic assignment resolved afterwards.
	Ports map[int]int
}

// Run creates and starts a detached container, removing any stale
// container of the same name first, and resolves dynamic host ports.
func (r *Runtime) Run(ctx context.Context, spec RunSpec) (*Handle, error) {
	// A crashed previous run leaves a named container behind; a fresh
	// start must not fail on the name collision.
	_ = r.Remove(ctx, spec.Name)

	args := []string{"run", "-d", "--name", spec.Name, "--label", "svcpilot.managed=true"}
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	for _, vol := range spec.Volumes {
		args = append(args, "-v", vol)
	}
	for cport, hport := range spec.Ports {
		if hport > 0 {
			args = append(args, "-p", fmt.Sprintf("%d:%d", hport, cport))
		} else {
			args = append(args, "-p", strconv.Itoa(cport))
		}
	}
	args = append(args, spec.Image)

	cmd := r.executor.CommandContext(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := string(output)
		return nil, &Error{
			Type:       classify(out, err),
			Operation:  "run",
			Message:    fmt.Sprintf("failed to start container %s", spec.Name),
			Underlying: err,
			Output:     out,
		}
	}
	id := strings.TrimSpace(string(output))
	h := &Handle{ID: id, Name: spec.Name, Ports: make(map[int]int, len(spec.Ports))}
	for cport, hport := range spec.Ports {
		if hport > 0 {
			h.Ports[cport] = hport
			continue
		}
		resolved, err := r.HostPort(ctx, id, cport)
		if err != nil {
			_ = r.Remove(ctx, id)
			return nil, err
		}
		h.Ports[cport] = resolved
	}
	return h, nil
}

// HostPort queries the engine for the host port mapped to
// containerPort. Output looks like "0.0.0.0:32768".
func (r *Runtime) HostPort(ctx context.Context, id string, containerPort int) (int, error) {
	cmd := r.executor.CommandContext(ctx, "docker", "port", id, strconv.Itoa(containerPort))
	output, err := cmd.Output()
	if err != nil {
		return 0, &Error{
			Type:        ErrorTypeUnknown,
			Operation:   "port",
			ContainerID: id,
			Message:     fmt.Sprintf("failed to resolve host port for %d", containerPort),
			Underlying:  err,
		}
	}
	// May print one line per address family; the first suffices.
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(string(output)), "\n", 2)[0])
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected docker port output %q", line)
	}
	port, err := strconv.Atoi(line[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected docker port output %q: %w", line, err)
	}
	return port, nil
}

// Stop requests a graceful stop with the engine-side timeout, then
// falls back to forced removal. The forced path reports
// svcerr.ErrStopTimedOut via the orchestrator; here it returns the
// removal result.
func (r *Runtime) Stop(ctx context.Context, id string, timeout time.Duration) (forced bool, err error) {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	cmd := r.executor.CommandContext(ctx, "docker", "stop", "-t", strconv.Itoa(secs), id)
	output, stopErr := cmd.CombinedOutput()
	if stopErr == nil {
		// stopped containers stay listed and block the next run
		_ = r.Remove(ctx, id)
		return false, nil
	}
	out := string(output)
	if classify(out, stopErr) == ErrorTypeContainerNotFound {
		return false, nil
	}
	if rmErr := r.Remove(ctx, id); rmErr != nil {
		return true, &Error{
			Type:        classify(out, stopErr),
			Operation:   "stop",
			ContainerID: id,
			Message:     "container did not stop and could not be removed",
			Underlying:  rmErr,
			Output:      out,
		}
	}
	return true, nil
}

// Remove force-removes a container by ID or name. Missing containers
// are not an error.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	cmd := r.executor.CommandContext(ctx, "docker", "rm", "-f", id)
	output, err := cmd.CombinedOutput()
	if err != nil {
		out := string(output)
		if classify(out, err) == ErrorTypeContainerNotFound {
			return nil
		}
		return &Error{
			Type:        classify(out, err),
			Operation:   "rm",
			ContainerID: id,
			Message:     "failed to remove container",
			Underlying:  err,
			Output:      out,
		}
	}
	return nil
}

// Running reports whether the container's state is running.
func (r *Runtime) Running(ctx context.Context, id string) bool {
	cmd := r.executor.CommandContext(ctx, "docker", "inspect", id, "--format", "{{.State.Running}}")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// WaitExit blocks on `docker wait` in a goroutine and delivers exactly
// one ExitEvent when the container stops, then closes the channel. The
// channel is closed without an event when ctx ends first.
func (r *Runtime) WaitExit(ctx context.Context, id string) <-chan ExitEvent {
	exits := make(chan ExitEvent, 1)
	cmd := r.executor.CommandContext(ctx, "docker", "wait", id)
	go func() {
		defer close(exits)
		output, err := cmd.Output()
		if ctx.Err() != nil {
			return
		}
		code := -1
		if err == nil {
			if n, perr := strconv.Atoi(strings.TrimSpace(string(output))); perr == nil {
				code = n
			}
		}
		exits <- ExitEvent{ID: id, Code: code, At: time.Now()}
	}()
	return exits
}

// Logs returns a stream of the container's output. With follow the
// reader stays open until the container stops or ctx ends. Closing the
// reader releases the underlying command.
func (r *Runtime) Logs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, id)
	cmd := r.executor.CommandContext(ctx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, &Error{
			Type:        ErrorTypeRuntimeUnavailable,
			Operation:   "logs",
			ContainerID: id,
			Message:     "failed to invoke docker",
			Underlying:  err,
		}
	}
	go func() { _ = cmd.Wait() }()
	return stdout, nil
}

// Inspect returns raw container state for diagnostics endpoints.
func (r *Runtime) Inspect(ctx context.Context, id string) (map[string]any, error) {
	cmd := r.executor.CommandContext(ctx, "docker", "inspect", id)
	output, err := cmd.Output()
	if err != nil {
		return nil, &Error{
			Type:        classify("", err),
			Operation:   "inspect",
			ContainerID: id,
			Message:     "failed to inspect container",
			Underlying:  err,
		}
	}
	var arr []map[string]any
	if err := json.Unmarshal(output, &arr); err != nil {
		return nil, fmt.Errorf("parse inspect output: %w", err)
	}
	if len(arr) == 0 {
		return nil, &Error{Type: ErrorTypeContainerNotFound, Operation: "inspect", ContainerID: id, Message: "container not found"}
	}
	return arr[0], nil
}
