package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmallek/svcpilot/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svcpilot.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func findDef(t *testing.T, defs []registry.Definition, name string) registry.Definition {
	t.Helper()
	for _, d := range defs {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("definition %q not found in %d definitions", name, len(defs))
	return registry.Definition{}
}

func TestLoadExplicitServices(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
dir = "/tmp/svcpilot-logs"

[store]
type = "sqlite"
path = "/tmp/svcpilot-state.db"

[history]
dsn = "sqlite:///tmp/svcpilot-history.db"

[server]
listen = "127.0.0.1:9999"
base_path = "/api"

[[services]]
name = "tool-server"
kind = "process"
command = "/usr/local/bin/tool-server --port 9910"
auto_resume = true
rank = 1

[services.probe]
type = "http"
target = "http://127.0.0.1:9910/health"
interval = "500ms"
max_attempts = 20

[[services]]
name = "model-proxy"
kind = "proxy"
listen = "127.0.0.1:9901"
upstream = "http://127.0.0.1:11434"
enabled = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Definitions) != 2 {
		t.Fatalf("definitions = %d, want 2", len(cfg.Definitions))
	}

	ts := findDef(t, cfg.Definitions, "tool-server")
	if ts.Kind != registry.KindProcess || ts.Command == "" {
		t.Fatalf("tool-server = %+v, want process with command", ts)
	}
	if !ts.AutoResume || ts.Rank != 1 {
		t.Fatalf("tool-server auto_resume/rank = %v/%d, want true/1", ts.AutoResume, ts.Rank)
	}
	if !ts.Enabled {
		t.Fatal("enabled should default to true when unset")
	}
	if ts.Probe.Type != "http" || ts.Probe.Interval != 500*time.Millisecond || ts.Probe.MaxAttempts != 20 {
		t.Fatalf("tool-server probe = %+v", ts.Probe)
	}
	if ts.Log.Dir != "/tmp/svcpilot-logs" {
		t.Fatalf("log dir = %q, want the [log] default", ts.Log.Dir)
	}

	mp := findDef(t, cfg.Definitions, "model-proxy")
	if mp.Kind != registry.KindProxy || mp.Enabled {
		t.Fatalf("model-proxy = %+v, want disabled proxy", mp)
	}

	if cfg.Store.Type != "sqlite" || cfg.Store.Path != "/tmp/svcpilot-state.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.History.DSN != "sqlite:///tmp/svcpilot-history.db" {
		t.Fatalf("history dsn = %q", cfg.History.DSN)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" || cfg.Server.BasePath != "/api" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if string(cfg.Logger.Slog.Level) != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Logger.Slog.Level)
	}
}

func TestLoadWithDefaultsCatalog(t *testing.T) {
	path := writeConfig(t, `
use_defaults = true

[[services]]
name = "image-engine"
enabled = true
image = "custom/image-engine:v2"

[[services]]
name = "scratchpad"
kind = "process"
command = "sleep 60"
rank = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := len(registry.Defaults()) + 1
	if len(cfg.Definitions) != want {
		t.Fatalf("definitions = %d, want %d", len(cfg.Definitions), want)
	}

	// Catalog entry overridden by name, other fields kept.
	ie := findDef(t, cfg.Definitions, "image-engine")
	if !ie.Enabled {
		t.Fatal("image-engine should be enabled by the override")
	}
	if ie.Image != "custom/image-engine:v2" {
		t.Fatalf("image = %q, want the override", ie.Image)
	}
	if ie.Kind != registry.KindContainer || len(ie.Ports) == 0 {
		t.Fatalf("image-engine lost catalog fields: %+v", ie)
	}
	if ie.StartTimeout != 3*time.Minute {
		t.Fatalf("start timeout = %v, want the catalog value", ie.StartTimeout)
	}

	// Unknown names are appended.
	sp := findDef(t, cfg.Definitions, "scratchpad")
	if sp.Rank != 5 || !sp.Enabled {
		t.Fatalf("scratchpad = %+v, want enabled at rank 5", sp)
	}

	// Untouched catalog entries survive as-is.
	mp := findDef(t, cfg.Definitions, "model-proxy")
	if mp.Upstream == "" || !mp.AutoResume {
		t.Fatalf("model-proxy = %+v, want the catalog entry", mp)
	}

	if cfg.Server.Listen != "127.0.0.1:9900" {
		t.Fatalf("listen = %q, want the default", cfg.Server.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaultsCatalogIsLoadable(t *testing.T) {
	path := writeConfig(t, "use_defaults = true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := registry.New(cfg.Definitions...); err != nil {
		t.Fatalf("resolved definitions do not validate: %v", err)
	}
}
