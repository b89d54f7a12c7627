package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmallek/svcpilot/internal/metrics"
	"github.com/jmallek/svcpilot/internal/orchestrator"
	"github.com/jmallek/svcpilot/internal/progress"
	"github.com/jmallek/svcpilot/internal/svcerr"
)

// Router provides embeddable HTTP handlers for the orchestrator.
// Endpoints under basePath:
//
//	GET  /services                  all statuses
//	GET  /services/:name            one status
//	POST /services/:name/start
//	POST /services/:name/stop
//	POST /services/:name/restart
//	POST /services/:name/probe      run the readiness probe once
//	POST /start-all                 start every enabled service
//	POST /stop-all                  stop everything, reverse order
//	POST /resume                    start services marked running at last shutdown
//	POST /save-state                persist the current running set
//	GET  /services/:name/inspect    raw engine state of a container service
//	GET  /services/:name/logs       log stream over websocket
//	GET  /ws/progress               operation progress over websocket
//	GET  /metrics                   Prometheus metrics
//	GET  /health                    liveness of the API itself
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	orch     *orchestrator.Orchestrator
	basePath string
	hub      *progressHub
}

func NewRouter(orch *orchestrator.Orchestrator, basePath string) *Router {
	r := &Router{orch: orch, basePath: sanitizeBase(basePath), hub: newProgressHub()}
	orch.AddProgressSink(r.hub)
	return r
}

// ProgressSink returns a sink that broadcasts operation progress to
// connected websocket clients. Wire it into orchestrator.Options.
func (r *Router) ProgressSink() progress.Sink { return r.hub }

// Handler returns an http.Handler powered by gin that can be mounted
// in any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/services", r.handleStatusAll)
	group.GET("/services/:name", r.handleStatus)
	group.POST("/services/:name/start", r.handleStart)
	group.POST("/services/:name/stop", r.handleStop)
	group.POST("/services/:name/restart", r.handleRestart)
	group.POST("/services/:name/probe", r.handleProbe)
	group.POST("/start-all", r.handleStartAll)
	group.POST("/stop-all", r.handleStopAll)
	group.POST("/resume", r.handleResume)
	group.POST("/save-state", r.handleSaveState)
	group.GET("/services/:name/inspect", r.handleInspect)
	group.GET("/services/:name/logs", r.handleLogs)
	group.GET("/ws/progress", r.handleProgressWS)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, orch *orchestrator.Orchestrator) (*http.Server, *Router) {
	r := NewRouter(orch, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv, r
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type okResp struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// writeErr maps the error taxonomy onto HTTP statuses so clients can
// branch without parsing messages.
func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, svcerr.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, svcerr.ErrOperationInProgress):
		status, code = http.StatusConflict, "operation_in_progress"
	case errors.Is(err, svcerr.ErrRuntimeUnavailable):
		status, code = http.StatusServiceUnavailable, "runtime_unavailable"
	case errors.Is(err, svcerr.ErrHealthCheckTimedOut):
		status, code = http.StatusGatewayTimeout, "health_check_timed_out"
	case errors.Is(err, svcerr.ErrStopTimedOut):
		status, code = http.StatusInternalServerError, "stop_timed_out"
	case svcerr.IsSpawn(err):
		status, code = http.StatusBadGateway, "spawn_failed"
	}
	c.JSON(status, errorResp{Error: err.Error(), Code: code})
}

func (r *Router) handleStatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, r.orch.StatusAll())
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.orch.Status(c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if err := r.orch.Start(c.Request.Context(), name); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	err := r.orch.Stop(c.Request.Context(), name)
	if errors.Is(err, svcerr.ErrStopTimedOut) {
		// the service is down, only the path there was forced
		c.JSON(http.StatusOK, okResp{OK: true, Detail: "stopped after forced kill"})
		return
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	if err := r.orch.Restart(c.Request.Context(), name); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleProbe(c *gin.Context) {
	if err := r.orch.Probe(c.Request.Context(), c.Param("name")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleInspect(c *gin.Context) {
	raw, err := r.orch.Inspect(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, raw)
}

func (r *Router) handleStartAll(c *gin.Context) {
	if err := r.orch.StartAllEnabled(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if err := r.orch.StopAll(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResume(c *gin.Context) {
	if err := r.orch.ResumePreviouslyRunning(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleSaveState(c *gin.Context) {
	if err := r.orch.SaveRunningState(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}
