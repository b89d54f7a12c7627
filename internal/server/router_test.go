package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jmallek/svcpilot/internal/orchestrator"
	"github.com/jmallek/svcpilot/internal/progress"
	"github.com/jmallek/svcpilot/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests use /bin/sh child processes")
	}
}

func procDef(name, command string) registry.Definition {
	return registry.Definition{
		Name:         name,
		Kind:         registry.KindProcess,
		Command:      command,
		Enabled:      true,
		StartTimeout: 10 * time.Second,
		StopTimeout:  2 * time.Second,
	}
}

func newTestServer(t *testing.T, basePath string, defs ...registry.Definition) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	reg, err := registry.New(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Registry: reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	srv := httptest.NewServer(NewRouter(orch, basePath).Handler())
	t.Cleanup(srv.Close)
	return srv, orch
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestStatusEndpoints(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "", procDef("tool-server", "sleep 60"), procDef("voice-agent", "sleep 60"))

	resp, err := http.Get(srv.URL + "/services")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	all := decode[[]orchestrator.Status](t, resp)
	if len(all) != 2 {
		t.Fatalf("services = %d, want 2", len(all))
	}

	resp, err = http.Get(srv.URL + "/services/tool-server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	one := decode[orchestrator.Status](t, resp)
	if one.Name != "tool-server" || one.State != "stopped" {
		t.Fatalf("status = %+v, want stopped tool-server", one)
	}

	resp, err = http.Get(srv.URL + "/services/ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	e := decode[errorResp](t, resp)
	if e.Code != "not_found" {
		t.Fatalf("code = %q, want not_found", e.Code)
	}
}

func TestInspectEndpoint(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "", procDef("tool-server", "sleep 60"))

	resp, err := http.Get(srv.URL + "/services/ghost/inspect")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Only container services expose engine state.
	resp, err = http.Get(srv.URL + "/services/tool-server/inspect")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLifecycleEndpoints(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "", procDef("tool-server", "sleep 60"))

	resp := post(t, srv.URL+"/services/tool-server/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}
	if ok := decode[okResp](t, resp); !ok.OK {
		t.Fatal("start response not ok")
	}

	resp, err := http.Get(srv.URL + "/services/tool-server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st := decode[orchestrator.Status](t, resp); st.State != "running" {
		t.Fatalf("state = %s, want running", st.State)
	}

	resp = post(t, srv.URL+"/services/tool-server/restart")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, srv.URL+"/services/tool-server/probe")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("probe status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, srv.URL+"/services/tool-server/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// Stopping again stays 200: the operation is idempotent.
	resp = post(t, srv.URL+"/services/tool-server/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second stop status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestErrorStatusMapping(t *testing.T) {
	requireUnix(t)
	slow := procDef("image-engine", "sleep 60")
	slow.Probe = registry.ProbeConfig{Type: "tcp", Target: "127.0.0.1:1", Interval: 30 * time.Millisecond, MaxAttempts: 2}
	srv, _ := newTestServer(t, "",
		procDef("tool-server", "/nonexistent/binary-path"),
		slow,
	)

	resp := post(t, srv.URL+"/services/tool-server/start")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("spawn failure status = %d, want 502", resp.StatusCode)
	}
	if e := decode[errorResp](t, resp); e.Code != "spawn_failed" {
		t.Fatalf("code = %q, want spawn_failed", e.Code)
	}

	resp = post(t, srv.URL+"/services/image-engine/start")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("health timeout status = %d, want 504", resp.StatusCode)
	}
	if e := decode[errorResp](t, resp); e.Code != "health_check_timed_out" {
		t.Fatalf("code = %q, want health_check_timed_out", e.Code)
	}

	resp = post(t, srv.URL+"/services/ghost/start")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown service status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, srv.URL+"/services/a..b/start")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsafe name status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBasePathMounting(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "/api/v1", procDef("tool-server", "sleep 60"))

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unprefixed route status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "", procDef("tool-server", "sleep 60"))

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProgressWebsocket(t *testing.T) {
	requireUnix(t)
	srv, _ := newTestServer(t, "", procDef("tool-server", "sleep 60"))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	resp := post(t, srv.URL+"/services/tool-server/start")
	resp.Body.Close()
	defer func() {
		r := post(t, srv.URL+"/services/tool-server/stop")
		r.Body.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev progress.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read progress event: %v", err)
	}
	if ev.Service != "tool-server" || ev.OpID == "" {
		t.Fatalf("event = %+v, want a tool-server event with an op id", ev)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"api":     "/api",
		"/api/":   "/api",
		"/api/v1": "/api/v1",
		" /api ":  "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	for _, ok := range []string{"tool-server", "model_proxy", "svc.2", "A9"} {
		if !isSafeName(ok) {
			t.Fatalf("isSafeName(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "a..b", "a/b", "a b", "a\\b"} {
		if isSafeName(bad) {
			t.Fatalf("isSafeName(%q) = true, want false", bad)
		}
	}
}
