package server

import (
	"bufio"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jmallek/svcpilot/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local desktop backend, same-origin enforcement is out of scope
	CheckOrigin: func(*http.Request) bool { return true },
}

// progressHub broadcasts operation progress events to websocket
// subscribers. It satisfies progress.Sink; Publish never blocks, slow
// clients drop events.
type progressHub struct {
	mu   sync.Mutex
	subs map[chan progress.Event]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[chan progress.Event]struct{})}
}

func (h *progressHub) Publish(e progress.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *progressHub) subscribe() chan progress.Event {
	ch := make(chan progress.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *progressHub) unsubscribe(ch chan progress.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (r *Router) handleProgressWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := r.hub.subscribe()
	defer r.hub.unsubscribe(ch)

	// drain client frames so close handshakes are noticed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-ch:
			if werr := conn.WriteJSON(e); werr != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	follow := c.Query("follow") == "1" || c.Query("follow") == "true"

	rc, err := r.orch.Logs(c.Request.Context(), name, follow)
	if err != nil {
		writeErr(c, err)
		return
	}

	conn, uerr := upgrader.Upgrade(c.Writer, c.Request, nil)
	if uerr != nil {
		_ = rc.Close()
		return
	}
	defer func() { _ = conn.Close() }()
	defer func() { _ = rc.Close() }()

	// closing the reader when the client goes away unblocks the scanner
	go func() {
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				_ = rc.Close()
				return
			}
		}
	}()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if werr := conn.WriteMessage(websocket.TextMessage, sc.Bytes()); werr != nil {
			return
		}
	}
}
