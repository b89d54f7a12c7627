package registry

import "time"

// Defaults returns the stock catalog of local backend services: the
// tool server and voice agent as spawned processes, the image
// generation engine as a container with a dynamically mapped port, and
// the in-process model-serving proxy. Intended for examples and as a
// starting point for config files.
func Defaults() []Definition {
	return []Definition{
		{
			Name:       "model-proxy",
			Kind:       KindProxy,
			Listen:     "127.0.0.1:9901",
			Upstream:   "http://127.0.0.1:11434",
			Probe:      ProbeConfig{Type: "tcp", Target: "127.0.0.1:9901"},
			Enabled:    true,
			AutoResume: true,
			Rank:       0,
		},
		{
			Name:       "tool-server",
			Kind:       KindProcess,
			Command:    "svcpilot-tools --listen 127.0.0.1:9910",
			Probe:      ProbeConfig{Type: "http", Target: "http://127.0.0.1:9910/health"},
			Enabled:    true,
			AutoResume: true,
			Rank:       1,
		},
		{
			Name:    "image-engine",
			Kind:    KindContainer,
			Image:   "svcpilot/image-engine:latest",
			Ports:   []PortMap{{Host: 0, Container: 8188}},
			Probe:   ProbeConfig{Type: "http", Target: "http://127.0.0.1:8188/health", MaxAttempts: 120},
			Enabled: false,
			Rank:    2,
			// container images can take a while to boot
			StartTimeout: 3 * time.Minute,
			StopTimeout:  20 * time.Second,
		},
		{
			Name:       "voice-agent",
			Kind:       KindProcess,
			Command:    "svcpilot-voice --listen 127.0.0.1:9920",
			Probe:      ProbeConfig{Type: "tcp", Target: "127.0.0.1:9920"},
			Enabled:    false,
			AutoResume: true,
			Rank:       2,
		},
	}
}
