// Package health determines whether a started service is actually
// ready to serve requests, not merely that its handle exists. Probes
// are a capability of the orchestrator, shared by every supervisor
// kind.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
)

// Prober performs one readiness check. A nil return means healthy.
// Implementations must be safe for concurrent use and must never
// panic; I/O failures are returned, not thrown.
type Prober interface {
	Probe(ctx context.Context) error
	Describe() string
}

// FromConfig builds a Prober from a probe config. A config with an
// empty Type yields a nil Prober, meaning "alive handle is enough".
func FromConfig(cfg registry.ProbeConfig) (Prober, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "tcp":
		return &TCPProber{Addr: cfg.Target}, nil
	case "http":
		return &HTTPProber{URL: cfg.Target}, nil
	case "command":
		return &CommandProber{Command: cfg.Target}, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", cfg.Type)
	}
}

// TCPProber succeeds when a TCP connection to Addr can be established.
type TCPProber struct {
	Addr string
}

func (p *TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *TCPProber) Describe() string { return "tcp:" + p.Addr }

// HTTPProber succeeds on any 2xx response from URL. The zero value of
// Client uses a short-lived default client; redirects are followed.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProber) Describe() string { return "http:" + p.URL }

// CommandProber runs a command that must exit 0 when the service is
// ready. A shell is involved only when metacharacters are present.
type CommandProber struct {
	Command string
}

func (p *CommandProber) Probe(ctx context.Context) error {
	cmdStr := strings.TrimSpace(p.Command)
	if cmdStr == "" {
		return fmt.Errorf("empty probe command")
	}
	var cmd *exec.Cmd
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	} else {
		parts := strings.Fields(cmdStr)
		// #nosec G204
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

func (p *CommandProber) Describe() string { return "cmd:" + p.Command }

// clampTimeout bounds one probe attempt so polling stays on schedule.
func clampTimeout(ctx context.Context, interval time.Duration) (context.Context, context.CancelFunc) {
	if interval <= 0 {
		interval = time.Second
	}
	return context.WithTimeout(ctx, interval)
}
