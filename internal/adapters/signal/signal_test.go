package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/adapters/render"
	"github.com/dkeye/studycall/internal/app"
	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/core"
)

type frame struct {
	Type   string          `json:"type"`
	Error  string          `json:"error"`
	SDP    string          `json:"sdp"`
	View   json.RawMessage `json:"view"`
	Notice *orch.Notice    `json:"notice"`
}

type harness struct {
	engine *orch.Orchestrator
	ctl    *ViewController
	url    string
}

func newHarness(t *testing.T, limiter *RateLimiter) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	layout := core.DefaultLayoutConfig()
	surface, err := render.NewSurface(webrtc.MimeTypeVP8, layout.Targets())
	require.NoError(t, err)
	engine := orch.New(orch.DefaultConfig(), surface, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = engine.Run(ctx) }()

	ctl := NewViewController(engine, surface, nil, limiter)
	t.Cleanup(ctl.Start())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("sid"))
		ctl.HandleView(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &harness{engine: engine, ctl: ctl, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (h *harness) dial(t *testing.T, sid string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url+"?sid="+sid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, ws *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for range 50 {
		if f := read(t, ws); match(f) {
			return f
		}
	}
	t.Fatal("expected frame never arrived")
	return frame{}
}

func ofType(typ string) func(frame) bool {
	return func(f frame) bool { return f.Type == typ }
}

func decodeView(t *testing.T, f frame) core.View {
	t.Helper()
	var v struct {
		Variant          string `json:"variant"`
		ParticipantCount int    `json:"participant_count"`
		Tiles            []struct {
			ParticipantID string `json:"participant_id"`
			IsMuted       bool   `json:"is_muted"`
		} `json:"tiles"`
	}
	require.NoError(t, json.Unmarshal(f.View, &v))
	out := core.View{ParticipantCount: v.ParticipantCount}
	for _, tile := range v.Tiles {
		out.Tiles = append(out.Tiles, core.Tile{IsMuted: tile.IsMuted})
	}
	return out
}

func TestViewerGetsViewsAndNotices(t *testing.T) {
	h := newHarness(t, nil)
	ws := h.dial(t, "s1")

	first := read(t, ws)
	require.Equal(t, "view", first.Type)
	assert.Zero(t, decodeView(t, first).ParticipantCount)

	h.engine.OnParticipantJoined("a", "Ann", true)
	f := readUntil(t, ws, func(f frame) bool {
		return f.Type == "view" && decodeView(t, f).ParticipantCount == 1
	})
	assert.False(t, decodeView(t, f).Tiles[0].IsMuted)

	// no transport: the optimistic mute is rolled back with a notice
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "toggle", "intent": "mute"}))
	n := readUntil(t, ws, ofType("notice"))
	require.NotNil(t, n.Notice)
	assert.Equal(t, orch.IntentMute, n.Notice.Intent)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "view"}))
	f = readUntil(t, ws, ofType("view"))
	assert.False(t, decodeView(t, f).Tiles[0].IsMuted)
}

func TestViewerControlErrors(t *testing.T) {
	h := newHarness(t, NewRateLimiter(1, time.Minute))
	ws := h.dial(t, "s1")
	read(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readUntil(t, ws, ofType("pong")).Type)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "toggle", "intent": "volume"}))
	assert.Equal(t, "unknown_intent", readUntil(t, ws, ofType("error")).Error)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "toggle", "intent": "pip"}))
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "toggle", "intent": "pip"}))
	assert.Equal(t, "rate_limited", readUntil(t, ws, ofType("error")).Error)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "answer", "sdp": "v=0"}))
	assert.Equal(t, "no_media", readUntil(t, ws, ofType("error")).Error)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, "unknown_type", readUntil(t, ws, ofType("error")).Error)
}

func TestReconnectReplacesViewer(t *testing.T) {
	h := newHarness(t, nil)
	old := h.dial(t, "s1")
	read(t, old)
	fresh := h.dial(t, "s1")
	read(t, fresh)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := old.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return h.ctl.Registry.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchOffersRenderTracks(t *testing.T) {
	h := newHarness(t, nil)
	ws := h.dial(t, "s1")
	read(t, ws)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "watch"}))
	offer := readUntil(t, ws, ofType("offer"))
	assert.Contains(t, offer.SDP, "main-0")
	assert.Contains(t, offer.SDP, "thumb-4")

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(answer))
	<-gathered

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "answer", "sdp": pc.LocalDescription().SDP}))
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	f := readUntil(t, ws, func(f frame) bool { return f.Type == "pong" || f.Type == "error" })
	assert.Equal(t, "pong", f.Type)

	sess, ok := h.ctl.Registry.Get("s1")
	require.True(t, ok)
	require.NotNil(t, sess.Media())
	assert.False(t, sess.Media().IsClosed())
}

func TestSlowViewerIsKicked(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = upgrader.Upgrade(w, r, nil)
	}))
	t.Cleanup(srv.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	conn := &WsSignalConn{conn: ws, send: make(chan core.Frame, 1)}
	sess := core.NewViewerSession("slow", conn)
	ctl := &ViewController{Registry: app.NewRegistry(), Policy: app.SimplePolicy{MaxMisses: 2}}
	canceled := false
	ctl.Registry.Bind(sess, func() { canceled = true })

	ctl.deliver(sess, core.Frame(`{}`))
	ctl.deliver(sess, core.Frame(`{}`))
	assert.Equal(t, int32(1), conn.misses.Load())
	assert.False(t, canceled)

	ctl.deliver(sess, core.Frame(`{}`))
	assert.True(t, canceled)
	assert.ErrorIs(t, conn.TrySend(core.Frame(`{}`)), ErrConnClosed)
}
