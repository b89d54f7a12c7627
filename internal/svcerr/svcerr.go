// Package svcerr defines the error taxonomy shared by supervisors and
// the orchestrator. Errors cross the orchestration boundary as values,
// never as panics; callers classify them with errors.Is / errors.As.
package svcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown service name.
	ErrNotFound = errors.New("unknown service")
	// ErrOperationInProgress reports a conflicting start/stop/restart
	// for a service that already has one in flight.
	ErrOperationInProgress = errors.New("operation already in progress")
	// ErrRuntimeUnavailable reports that the container engine is not
	// reachable; container operations fail fast with this error.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrHealthCheckTimedOut reports that a started service never
	// became healthy within the configured probe budget.
	ErrHealthCheckTimedOut = errors.New("health check timed out")
	// ErrStopTimedOut reports that a graceful stop expired and the
	// service was forcibly terminated. The end state is still Stopped,
	// so callers should treat it as a warning.
	ErrStopTimedOut = errors.New("stop timed out, forced termination")
)

// SpawnError reports that the underlying process could not be created.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn failed: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawn reports whether err is (or wraps) a SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// Wrap prefixes err with the service name, preserving the chain.
func Wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("service %s: %w", service, err)
}
