// Package signal serves the rendering clients: view frames and notices go
// out over a websocket, control intents and the viewer peer connection
// negotiation come back in.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/adapters/render"
	"github.com/dkeye/studycall/internal/app"
	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Engine is the part of the orchestrator viewers talk to.
type Engine interface {
	View() core.View
	Toggle(in orch.Intent) bool
	Subscribe(fn func(core.View)) func()
	OnNotice(fn func(orch.Notice)) func()
}

type ViewController struct {
	Engine   Engine
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *RateLimiter
	Surface  *render.Surface
	API      *webrtc.API
	ICE      []string
	// SendBuffer is the per viewer queue length.
	SendBuffer int
	ReadLimit  int64
}

func NewViewController(engine Engine, surface *render.Surface, api *webrtc.API, limiter *RateLimiter) *ViewController {
	return &ViewController{
		Engine:     engine,
		Registry:   app.NewRegistry(),
		Policy:     app.SimplePolicy{MaxMisses: 8},
		Limiter:    limiter,
		Surface:    surface,
		API:        api,
		SendBuffer: 32,
	}
}

// Start hooks the controller into the engine. The returned func unhooks it.
func (ctl *ViewController) Start() func() {
	unView := ctl.Engine.Subscribe(func(v core.View) {
		ctl.broadcast(viewFrame{Type: "view", View: v})
	})
	unNotice := ctl.Engine.OnNotice(func(n orch.Notice) {
		ctl.broadcast(noticeFrame{Type: "notice", Notice: n})
	})
	if ctl.Surface != nil {
		ctl.Surface.OnTarget(func(t *render.Target) { go ctl.renegotiate(t) })
	}
	return func() {
		unView()
		unNotice()
	}
}

type viewFrame struct {
	Type string    `json:"type"`
	View core.View `json:"view"`
}

type noticeFrame struct {
	Type   string      `json:"type"`
	Notice orch.Notice `json:"notice"`
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	// misses counts consecutive frames dropped on a full queue.
	misses atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// broadcast encodes v once and offers it to every viewer.
func (ctl *ViewController) broadcast(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, sess := range ctl.Registry.Sessions() {
		ctl.deliver(sess, frame)
	}
}

func (ctl *ViewController) deliver(sess core.ViewerSession, frame core.Frame) {
	conn, ok := sess.Signal().(*WsSignalConn)
	if !ok {
		_ = sess.Signal().TrySend(frame)
		return
	}
	err := conn.TrySend(frame)
	if err == nil {
		conn.misses.Store(0)
		return
	}
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	misses := int(conn.misses.Add(1))
	switch ctl.Policy.OnBackPressure(sess, misses) {
	case app.KickViewer:
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Int("misses", misses).Msg("kicking slow viewer")
		ctl.Registry.Cancel(sess.ID())
		conn.Close()
	case app.DropFrame:
		log.Debug().Str("module", "signal").Str("sid", string(sess.ID())).Int("misses", misses).Msg("frame dropped")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *ViewController) HandleView(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new viewer connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	sess := core.NewViewerSession(sid, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess)

	ctl.sendJSON(conn, viewFrame{Type: "view", View: ctl.Engine.View()})
}
