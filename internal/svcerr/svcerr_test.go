package svcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesSentinels(t *testing.T) {
	err := Wrap("tool-server", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrapped error lost sentinel: %v", err)
	}
	if got := err.Error(); got != "service tool-server: unknown service" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestSpawnErrorUnwraps(t *testing.T) {
	cause := errors.New("no such file or directory")
	var err error = &SpawnError{Err: cause}
	if !IsSpawn(err) {
		t.Fatalf("IsSpawn = false for SpawnError")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("SpawnError does not unwrap to cause")
	}
	wrapped := Wrap("voice-agent", err)
	if !IsSpawn(wrapped) {
		t.Fatalf("IsSpawn = false after Wrap")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrOperationInProgress,
		ErrRuntimeUnavailable,
		ErrHealthCheckTimedOut,
		ErrStopTimedOut,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("sentinel %v matches %v", a, b)
			}
		}
	}
}

func TestWrapNonSentinel(t *testing.T) {
	err := Wrap("image-engine", fmt.Errorf("boom"))
	if errors.Is(err, ErrNotFound) || IsSpawn(err) {
		t.Fatalf("plain error classified as typed: %v", err)
	}
}
