package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLSinkSQLiteAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	events := []Event{
		{Type: EventStart, OccurredAt: time.Now().UTC(), Service: "tool-server", State: "running"},
		{Type: EventCrash, OccurredAt: time.Now().UTC(), Service: "tool-server", State: "error", Detail: "exit code 1"},
		{Type: EventStop, OccurredAt: time.Now().UTC(), Service: "tool-server", State: "stopped"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM service_history WHERE service = 'tool-server'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}
	var event, detail string
	err = db.QueryRow(`SELECT event, detail FROM service_history WHERE event = 'crash'`).Scan(&event, &detail)
	if err != nil {
		t.Fatalf("select crash: %v", err)
	}
	if detail != "exit code 1" {
		t.Fatalf("detail = %q, want %q", detail, "exit code 1")
	}
}

func TestSQLSinkSchemePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSinkFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("open sink with scheme: %v", err)
	}
	defer sink.Close()
	if err := sink.Send(context.Background(), Event{Type: EventResume, OccurredAt: time.Now().UTC(), Service: "model-proxy", State: "running"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLSinkRejectsEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

type recordSink struct {
	events []Event
	err    error
}

func (r *recordSink) Send(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{err: errors.New("sink down")}
	c := &recordSink{}
	m := Multi{a, b, c}

	e := Event{Type: EventStart, Service: "voice-agent", State: "running"}
	err := m.Send(context.Background(), e)
	if err == nil || err.Error() != "sink down" {
		t.Fatalf("err = %v, want first sink error", err)
	}
	for i, s := range []*recordSink{a, b, c} {
		if len(s.events) != 1 || s.events[0].Service != "voice-agent" {
			t.Fatalf("sink %d did not receive the event: %+v", i, s.events)
		}
	}
}
