package client

import "time"

// ServiceStatus is the daemon's view of one managed service.
type ServiceStatus struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Enabled     bool      `json:"enabled"`
	PID         int       `json:"pid,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// ErrorResponse is the daemon's error payload. Code carries the
// machine-readable failure class.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// OKResponse acknowledges a lifecycle operation.
type OKResponse struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}
