// Package registry holds the declarative catalog of manageable
// services. Definitions are immutable after construction; ordering is
// by dependency rank and drives start-all / stop-all.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmallek/svcpilot/internal/logger"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Kind selects the supervisor implementation for a service.
type Kind string

const (
	KindProcess   Kind = "process"
	KindContainer Kind = "container"
	KindProxy     Kind = "proxy"
)

// PortMap maps a host port to a container port. Host 0 requests a
// dynamically assigned port, resolved after the container starts.
type PortMap struct {
	Host      int `json:"host" mapstructure:"host"`
	Container int `json:"container" mapstructure:"container"`
}

// ProbeConfig describes the readiness probe for a service. An empty
// Type means the service is considered healthy as soon as its handle
// is alive.
type ProbeConfig struct {
	Type        string        `json:"type" mapstructure:"type"`       // "tcp", "http", "command"
	Target      string        `json:"target" mapstructure:"target"`   // address, URL, or shell command
	Interval    time.Duration `json:"interval" mapstructure:"interval"`
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
}

// Definition describes one manageable service. Which launch fields
// apply depends on Kind.
type Definition struct {
	Name string `json:"name" mapstructure:"name"`
	Kind Kind   `json:"kind" mapstructure:"kind"`

	// Process launch.
	Command string   `json:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`

	// Container launch.
	Image   string    `json:"image" mapstructure:"image"`
	Ports   []PortMap `json:"ports" mapstructure:"ports"`
	Volumes []string  `json:"volumes" mapstructure:"volumes"`

	// Proxy launch.
	Listen   string `json:"listen" mapstructure:"listen"`
	Upstream string `json:"upstream" mapstructure:"upstream"`

	Probe        ProbeConfig       `json:"probe" mapstructure:"probe"`
	AutoResume   bool              `json:"auto_resume" mapstructure:"auto_resume"`
	Enabled      bool              `json:"enabled" mapstructure:"enabled"`
	Rank         int               `json:"rank" mapstructure:"rank"` // lower ranks start first
	StartTimeout time.Duration     `json:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration     `json:"stop_timeout" mapstructure:"stop_timeout"`
	Log          logger.FileConfig `json:"log" mapstructure:"log"`
}

const (
	DefaultStartTimeout  = 60 * time.Second
	DefaultStopTimeout   = 10 * time.Second
	DefaultProbeInterval = time.Second
	DefaultProbeAttempts = 60
)

// Validate checks the definition for the fields its kind requires.
func (d Definition) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return fmt.Errorf("service %q: name must not contain spaces or path separators", name)
	}
	switch d.Kind {
	case KindProcess:
		if strings.TrimSpace(d.Command) == "" {
			return fmt.Errorf("service %q: process kind requires command", name)
		}
	case KindContainer:
		if strings.TrimSpace(d.Image) == "" {
			return fmt.Errorf("service %q: container kind requires image", name)
		}
		for _, p := range d.Ports {
			if p.Container <= 0 || p.Container > 65535 {
				return fmt.Errorf("service %q: invalid container port %d", name, p.Container)
			}
			if p.Host < 0 || p.Host > 65535 {
				return fmt.Errorf("service %q: invalid host port %d", name, p.Host)
			}
		}
	case KindProxy:
		if strings.TrimSpace(d.Upstream) == "" {
			return fmt.Errorf("service %q: proxy kind requires upstream", name)
		}
	default:
		return fmt.Errorf("service %q: unknown kind %q", name, d.Kind)
	}
	switch d.Probe.Type {
	case "", "tcp", "http", "command":
	default:
		return fmt.Errorf("service %q: unknown probe type %q", name, d.Probe.Type)
	}
	if d.Probe.Type != "" && strings.TrimSpace(d.Probe.Target) == "" {
		return fmt.Errorf("service %q: probe requires target", name)
	}
	return nil
}

// WithDefaults returns a copy with unset timeouts and probe parameters
// filled in.
func (d Definition) WithDefaults() Definition {
	if d.StartTimeout <= 0 {
		d.StartTimeout = DefaultStartTimeout
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	if d.Probe.Interval <= 0 {
		d.Probe.Interval = DefaultProbeInterval
	}
	if d.Probe.MaxAttempts <= 0 {
		d.Probe.MaxAttempts = DefaultProbeAttempts
	}
	return d
}

// Registry is a read-only, rank-ordered set of definitions.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// New validates the definitions, applies defaults, and freezes them in
// rank order (stable by name within one rank).
func New(defs ...Definition) (*Registry, error) {
	byName := make(map[string]Definition, len(defs))
	ordered := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", d.Name)
		}
		d = d.WithDefaults()
		byName[d.Name] = d
		ordered = append(ordered, d)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank < ordered[j].Rank
		}
		return ordered[i].Name < ordered[j].Name
	})
	return &Registry{defs: ordered, byName: byName}, nil
}

// All returns the definitions in start order. The slice is a copy.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Get looks up one definition by name.
func (r *Registry) Get(name string) (Definition, error) {
	d, ok := r.byName[name]
	if !ok {
		return Definition{}, svcerr.Wrap(name, svcerr.ErrNotFound)
	}
	return d, nil
}

// Names returns all service names in start order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Name
	}
	return out
}
