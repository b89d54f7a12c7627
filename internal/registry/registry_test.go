package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/jmallek/svcpilot/internal/svcerr"
)

func TestValidateKindRequirements(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"process ok", Definition{Name: "a", Kind: KindProcess, Command: "sleep 1"}, true},
		{"process no command", Definition{Name: "a", Kind: KindProcess}, false},
		{"container ok", Definition{Name: "b", Kind: KindContainer, Image: "img:latest"}, true},
		{"container no image", Definition{Name: "b", Kind: KindContainer}, false},
		{"proxy ok", Definition{Name: "c", Kind: KindProxy, Upstream: "http://127.0.0.1:11434"}, true},
		{"proxy no upstream", Definition{Name: "c", Kind: KindProxy}, false},
		{"unknown kind", Definition{Name: "d", Kind: "vm", Command: "x"}, false},
		{"empty name", Definition{Kind: KindProcess, Command: "x"}, false},
		{"name with slash", Definition{Name: "a/b", Kind: KindProcess, Command: "x"}, false},
		{"bad probe type", Definition{Name: "e", Kind: KindProcess, Command: "x", Probe: ProbeConfig{Type: "icmp", Target: "y"}}, false},
		{"probe without target", Definition{Name: "f", Kind: KindProcess, Command: "x", Probe: ProbeConfig{Type: "tcp"}}, false},
		{"bad container port", Definition{Name: "g", Kind: KindContainer, Image: "i", Ports: []PortMap{{Container: 70000}}}, false},
	}
	for _, tc := range cases {
		err := tc.def.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestWithDefaultsFillsGaps(t *testing.T) {
	d := Definition{Name: "a", Kind: KindProcess, Command: "x"}.WithDefaults()
	if d.StartTimeout != DefaultStartTimeout || d.StopTimeout != DefaultStopTimeout {
		t.Fatalf("timeouts not defaulted: %+v", d)
	}
	if d.Probe.Interval != DefaultProbeInterval || d.Probe.MaxAttempts != DefaultProbeAttempts {
		t.Fatalf("probe not defaulted: %+v", d.Probe)
	}

	d = Definition{Name: "b", Kind: KindProcess, Command: "x", StartTimeout: 5 * time.Second}.WithDefaults()
	if d.StartTimeout != 5*time.Second {
		t.Fatalf("explicit timeout overwritten")
	}
}

func TestNewOrdersByRankThenName(t *testing.T) {
	reg, err := New(
		Definition{Name: "zeta", Kind: KindProcess, Command: "x", Rank: 1},
		Definition{Name: "alpha", Kind: KindProcess, Command: "x", Rank: 2},
		Definition{Name: "beta", Kind: KindProcess, Command: "x", Rank: 1},
		Definition{Name: "gamma", Kind: KindProcess, Command: "x", Rank: 0},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := reg.Names()
	want := []string{"gamma", "beta", "zeta", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(
		Definition{Name: "a", Kind: KindProcess, Command: "x"},
		Definition{Name: "a", Kind: KindProcess, Command: "y"},
	)
	if err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestGetUnknownIsNotFound(t *testing.T) {
	reg, err := New(Definition{Name: "a", Kind: KindProcess, Command: "x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := reg.Get("missing"); !errors.Is(err, svcerr.ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
	d, err := reg.Get("a")
	if err != nil || d.Name != "a" {
		t.Fatalf("Get(a) = %+v, %v", d, err)
	}
}

func TestDefaultsCatalogIsValid(t *testing.T) {
	defs := Defaults()
	if len(defs) == 0 {
		t.Fatalf("empty defaults catalog")
	}
	reg, err := New(defs...)
	if err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if _, err := reg.Get("model-proxy"); err != nil {
		t.Fatalf("model-proxy missing from defaults")
	}
	names := reg.Names()
	if names[0] != "model-proxy" {
		t.Fatalf("model-proxy should start first, got order %v", names)
	}
}
