package room

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
)

type recordSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordSink) add(format string, args ...any) {
	s.mu.Lock()
	s.events = append(s.events, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *recordSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *recordSink) has(want ...string) func() bool {
	return func() bool {
		got := s.Events()
		for _, w := range want {
			if !slices.Contains(got, w) {
				return false
			}
		}
		return true
	}
}

func (s *recordSink) OnParticipantJoined(id domain.ParticipantID, name string, local bool) {
	s.add("join %s %s %t", id, name, local)
}
func (s *recordSink) OnParticipantLeft(id domain.ParticipantID) { s.add("leave %s", id) }
func (s *recordSink) OnTrackPublished(id domain.ParticipantID, kind domain.TrackKind, _ core.MediaTrack) {
	s.add("publish %s %s", id, kind)
}
func (s *recordSink) OnTrackUnpublished(id domain.ParticipantID, kind domain.TrackKind) {
	s.add("unpublish %s %s", id, kind)
}
func (s *recordSink) OnMuteChanged(id domain.ParticipantID, kind domain.TrackKind, muted bool) {
	s.add("mute %s %s %t", id, kind, muted)
}
func (s *recordSink) OnAudioLevel(id domain.ParticipantID, level float64) {
	s.add("level %s %.0f", id, level)
}

// fakeRoom accepts one websocket and hands it to the test.
func fakeRoom(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func readMsg(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func startClient(t *testing.T) (*Client, *recordSink, *websocket.Conn, <-chan error) {
	t.Helper()
	url, conns := fakeRoom(t)
	sink := &recordSink{}
	c := NewClient(Config{URL: url, RoomID: "r1", Name: "viewer"}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	var ws *websocket.Conn
	select {
	case ws = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}
	t.Cleanup(func() { _ = ws.Close() })

	join := readMsg(t, ws)
	assert.Equal(t, "join", join["type"])
	assert.Equal(t, "r1", join["room_id"])
	assert.Equal(t, "viewer", join["name"])
	return c, sink, ws, errc
}

func TestClientForwardsRoomEvents(t *testing.T) {
	c, sink, ws, _ := startClient(t)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type": "room_state",
		"self": "a",
		"members": []map[string]any{
			{"id": "a", "name": "Ann"},
			{"id": "b", "name": "Bob", "muted": true, "sharing": true},
		},
	}))
	require.Eventually(t, sink.has(
		"join a Ann true",
		"join b Bob false",
		"mute b microphone true",
		"mute b screen false",
		"mute a camera false",
	), time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.ParticipantID("a"), c.Self())

	for _, m := range []map[string]any{
		{"type": "member_joined", "member": map[string]any{"id": "c", "name": "Cid", "camera_off": true}},
		{"type": "mute_changed", "id": "c", "kind": "mic", "muted": true},
		{"type": "track_unpublished", "id": "b", "kind": "screen"},
		{"type": "audio_level", "id": "a", "level": -20},
		{"type": "track_unpublished", "id": "b", "kind": "hologram"},
		{"type": "member_left", "id": "b"},
	} {
		require.NoError(t, ws.WriteJSON(m))
	}
	require.Eventually(t, sink.has(
		"join c Cid false",
		"mute c camera true",
		"mute c microphone true",
		"unpublish b screen",
		"level a -20",
		"leave b",
	), time.Second, 5*time.Millisecond)

	// a fresh room state drops members it no longer lists
	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    "room_state",
		"self":    "a",
		"members": []map[string]any{{"id": "a", "name": "Ann"}},
	}))
	require.Eventually(t, sink.has("leave c"), time.Second, 5*time.Millisecond)
}

func TestClientRequestAck(t *testing.T) {
	c, _, ws, _ := startClient(t)

	answer := func(ok bool, reason string) {
		req := readMsg(t, ws)
		require.Equal(t, "request", req["type"])
		require.NotEmpty(t, req["id"])
		require.NoError(t, ws.WriteJSON(map[string]any{"type": "ack", "id": req["id"], "ok": ok, "error": reason}))
	}

	done := make(chan error, 1)
	go func() { done <- c.RequestToggleMute(context.Background()) }()
	answer(true, "")
	require.NoError(t, <-done)

	go func() { done <- c.RequestToggleCamera(context.Background()) }()
	answer(false, "camera busy")
	err := <-done
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "camera busy")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.RequestToggleScreenShare(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	req := readMsg(t, ws)
	assert.Equal(t, actionToggleScreenShare, req["action"])
}

func TestClientDisconnectReleasesMembers(t *testing.T) {
	c, sink, ws, errc := startClient(t)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    "room_state",
		"self":    "a",
		"members": []map[string]any{{"id": "a", "name": "Ann"}, {"id": "b", "name": "Bob"}},
	}))
	require.Eventually(t, sink.has("join b Bob false"), time.Second, 5*time.Millisecond)

	pending := make(chan error, 1)
	go func() { pending <- c.RequestToggleMute(context.Background()) }()
	readMsg(t, ws)

	require.NoError(t, ws.Close())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.ErrorIs(t, <-pending, ErrNotConnected)
	assert.True(t, sink.has("leave a", "leave b")())
	assert.ErrorIs(t, c.RequestToggleMute(context.Background()), ErrNotConnected)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(Config{}, &recordSink{}, nil)
	assert.ErrorIs(t, c.RequestToggleMute(context.Background()), ErrNotConnected)
}

func TestTrackMapping(t *testing.T) {
	assert.Equal(t, domain.TrackMicrophone, kindOf(webrtc.RTPCodecTypeAudio, "screen-audio"))
	assert.Equal(t, domain.TrackScreen, kindOf(webrtc.RTPCodecTypeVideo, "Screen-1"))
	assert.Equal(t, domain.TrackCamera, kindOf(webrtc.RTPCodecTypeVideo, "cam"))
	assert.Equal(t, "b/screen", trackKey("b", domain.TrackScreen))

	b, err := json.Marshal(requestMsg{Type: msgRequest, ID: "1", Action: actionToggleMute})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request","id":"1","action":"toggle_mute"}`, string(b))
}
