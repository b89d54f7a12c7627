package container

import (
	"fmt"
	"strings"

	"github.com/jmallek/svcpilot/internal/svcerr"
)

// ErrorType classifies a container operation failure.
type ErrorType string

const (
	ErrorTypeRuntimeUnavailable ErrorType = "runtime_unavailable"
	ErrorTypeImageNotFound      ErrorType = "image_not_found"
	ErrorTypeContainerNotFound  ErrorType = "container_not_found"
	ErrorTypePortConflict       ErrorType = "port_conflict"
	ErrorTypePermissionDenied   ErrorType = "permission_denied"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Error is a typed container operation failure. Output keeps the
// docker CLI's combined output for diagnosis; callers classify with
// errors.Is against the svcerr sentinels or errors.As against *Error.
type Error struct {
	Type        ErrorType
	Operation   string
	ContainerID string
	Message     string
	Underlying  error
	Output      string
}

func (e *Error) Error() string {
	parts := []string{e.Message}
	if e.ContainerID != "" {
		parts = append(parts, "container="+e.ContainerID)
	}
	if e.Operation != "" {
		parts = append(parts, "operation="+e.Operation)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		if len(out) > 200 {
			out = out[:200] + "..."
		}
		parts = append(parts, "output="+out)
	}
	if e.Underlying != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Underlying))
	}
	return strings.Join(parts, ", ")
}

func (e *Error) Unwrap() error { return e.Underlying }

// Is maps the runtime-unavailable type onto the shared sentinel so
// orchestrator callers need only errors.Is(err, svcerr.ErrRuntimeUnavailable).
func (e *Error) Is(target error) bool {
	return target == svcerr.ErrRuntimeUnavailable && e.Type == ErrorTypeRuntimeUnavailable
}

// classify determines the error type from docker CLI output.
func classify(output string, err error) ErrorType {
	combined := strings.ToLower(output)
	if err != nil {
		combined += " " + strings.ToLower(err.Error())
	}
	switch {
	case strings.Contains(combined, "no such container"):
		return ErrorTypeContainerNotFound
	case strings.Contains(combined, "no such image"),
		strings.Contains(combined, "repository does not exist"),
		strings.Contains(combined, "pull access denied"):
		return ErrorTypeImageNotFound
	case strings.Contains(combined, "port is already allocated"),
		strings.Contains(combined, "address already in use"):
		return ErrorTypePortConflict
	case strings.Contains(combined, "permission denied"):
		return ErrorTypePermissionDenied
	case strings.Contains(combined, "cannot connect to the docker daemon"),
		strings.Contains(combined, "docker daemon"),
		strings.Contains(combined, "executable file not found"):
		return ErrorTypeRuntimeUnavailable
	default:
		return ErrorTypeUnknown
	}
}
