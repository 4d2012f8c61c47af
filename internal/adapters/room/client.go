// Package room links the engine to the room server: a websocket for
// membership and control, plus a subscriber peer connection whose remote
// tracks become relayed media tracks.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/adapters/rtc"
	"github.com/dkeye/studycall/internal/app/sfu"
	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
)

var (
	ErrNotConnected = errors.New("room link not connected")
	ErrRejected     = errors.New("request rejected by room")
	ErrClosed       = errors.New("room link closed")
	ErrBackpressure = errors.New("backpressure")
)

var _ core.Transport = (*Client)(nil)

type Config struct {
	URL           string
	RoomID        string
	Name          string
	Media         bool
	ICEServers    []string
	PingPeriod    time.Duration
	LevelInterval time.Duration
	WriteTimeout  time.Duration
}

// Client is the room link. Inbound room events are forwarded to an
// EventSink; the Transport methods send requests and wait for their ack.
type Client struct {
	cfg    Config
	sink   core.EventSink
	api    *webrtc.API
	relays *sfu.RelayManager
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	send    chan []byte
	pending map[string]chan ackMsg
	members map[domain.ParticipantID]struct{}
	self    domain.ParticipantID
	pc      *rtc.WebRTCConnection
}

// NewClient creates a room link. api may be nil when cfg.Media is off.
func NewClient(cfg Config, sink core.EventSink, api *webrtc.API) *Client {
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		api:     api,
		relays:  sfu.NewRelayManager(),
		dialer:  websocket.DefaultDialer,
		logger:  log.With().Str("module", "room").Str("room", cfg.RoomID).Logger(),
		pending: make(map[string]chan ackMsg),
		members: make(map[domain.ParticipantID]struct{}),
	}
}

// Run connects, joins the room and processes events until ctx is cancelled
// or the server goes away. Members known at that point are reported as left.
func (c *Client) Run(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial room %s: %w", c.cfg.URL, err)
	}
	c.logger.Info().Str("url", c.cfg.URL).Msg("connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan []byte, 64)
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
	defer c.teardown()

	go c.writePump(ctx, ws, send)
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	if err := c.sendJSON(joinMsg{Type: msgJoin, RoomID: c.cfg.RoomID, Name: c.cfg.Name, Media: c.cfg.Media}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	return c.readPump(ctx, ws)
}

func (c *Client) RequestToggleMute(ctx context.Context) error {
	return c.request(ctx, actionToggleMute)
}

func (c *Client) RequestToggleCamera(ctx context.Context) error {
	return c.request(ctx, actionToggleCamera)
}

func (c *Client) RequestToggleScreenShare(ctx context.Context) error {
	return c.request(ctx, actionToggleScreenShare)
}

// Self is the local participant id assigned by the room, empty before the
// room state arrived.
func (c *Client) Self() domain.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) request(ctx context.Context, action string) error {
	id := uuid.NewString()
	ch := make(chan ackMsg, 1)

	c.mu.Lock()
	if c.send == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.sendJSON(requestMsg{Type: msgRequest, ID: id, Action: action}); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	select {
	case ack, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", action, ErrNotConnected)
		}
		if !ack.OK {
			return fmt.Errorf("%w: %s: %s", ErrRejected, action, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", action, ctx.Err())
	}
}

func (c *Client) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn, send <-chan []byte) {
	var ping <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		t := time.NewTicker(c.cfg.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				_ = ws.Close()
				return
			}
		case <-ping:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		c.handle(ctx, data)
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	env, err := decode[envelope](data)
	if err != nil {
		c.logger.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Type {
	case msgRoomState:
		c.handleRoomState(data)
	case msgMemberJoined, msgMemberUpdated:
		msg, err := decode[memberMsg](data)
		if err != nil || msg.Member.ID == "" {
			c.logger.Error().Err(err).Str("type", env.Type).Msg("bad member payload")
			return
		}
		c.addMember(msg.Member)
	case msgMemberLeft:
		msg, err := decode[memberLeftMsg](data)
		if err != nil || msg.ID == "" {
			c.logger.Error().Err(err).Msg("bad member_left payload")
			return
		}
		c.removeMember(msg.ID)
	case msgMuteChanged:
		msg, kind, ok := c.decodeTrack(data)
		if ok {
			c.sink.OnMuteChanged(msg.ID, kind, msg.Muted)
		}
	case msgTrackUnpublished:
		msg, kind, ok := c.decodeTrack(data)
		if ok {
			c.relays.StopRelay(trackKey(msg.ID, kind))
			c.sink.OnTrackUnpublished(msg.ID, kind)
		}
	case msgAudioLevel:
		msg, err := decode[audioLevelMsg](data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad audio_level payload")
			return
		}
		c.sink.OnAudioLevel(msg.ID, msg.Level)
	case msgOffer:
		msg, err := decode[sdpMsg](data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad offer payload")
			return
		}
		c.handleOffer(ctx, msg.SDP)
	case msgCandidate:
		msg, err := decode[candidateMsg](data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad candidate payload")
			return
		}
		c.handleCandidate(msg)
	case msgAck:
		msg, err := decode[ackMsg](data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad ack payload")
			return
		}
		c.resolve(msg)
	case msgPing:
		_ = c.sendJSON(envelope{Type: msgPong})
	case msgError:
		msg, _ := decode[errorMsg](data)
		c.logger.Warn().Str("message", msg.Message).Msg("room error")
	default:
		c.logger.Warn().Str("type", env.Type).Msg("unknown room message")
	}
}

func (c *Client) handleRoomState(data []byte) {
	msg, err := decode[roomStateMsg](data)
	if err != nil {
		c.logger.Error().Err(err).Msg("bad room_state payload")
		return
	}
	c.mu.Lock()
	c.self = domain.ParticipantID(msg.Self)
	stale := make(map[domain.ParticipantID]struct{}, len(c.members))
	maps.Copy(stale, c.members)
	c.mu.Unlock()

	for _, m := range msg.Members {
		delete(stale, m.ID)
		c.addMember(m)
	}
	for _, id := range slices.Sorted(maps.Keys(stale)) {
		c.removeMember(id)
	}
	c.logger.Info().Str("self", msg.Self).Int("members", len(msg.Members)).Msg("room state")
}

// addMember reports a join and the member's published flags. Joining an
// existing member only refreshes its record.
func (c *Client) addMember(m member) {
	c.mu.Lock()
	local := m.Local || (c.self != "" && m.ID == c.self)
	c.members[m.ID] = struct{}{}
	c.mu.Unlock()

	c.sink.OnParticipantJoined(m.ID, m.Name, local)
	c.sink.OnMuteChanged(m.ID, domain.TrackMicrophone, m.Muted)
	c.sink.OnMuteChanged(m.ID, domain.TrackCamera, m.CameraOff)
	c.sink.OnMuteChanged(m.ID, domain.TrackScreen, !m.Sharing)
}

func (c *Client) removeMember(id domain.ParticipantID) {
	c.mu.Lock()
	delete(c.members, id)
	c.mu.Unlock()
	for _, kind := range domain.TrackKinds {
		c.relays.StopRelay(trackKey(id, kind))
	}
	c.sink.OnParticipantLeft(id)
}

func (c *Client) decodeTrack(data []byte) (trackMsg, domain.TrackKind, bool) {
	msg, err := decode[trackMsg](data)
	if err != nil || msg.ID == "" {
		c.logger.Error().Err(err).Msg("bad track payload")
		return msg, "", false
	}
	kind, err := domain.ParseTrackKind(msg.Kind)
	if err != nil {
		c.logger.Warn().Err(err).Str("participant", string(msg.ID)).Msg("ignoring track event")
		return msg, "", false
	}
	return msg, kind, true
}

func (c *Client) resolve(ack ackMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[ack.ID]
	if !ok {
		c.logger.Debug().Str("id", ack.ID).Msg("ack for unknown request")
		return
	}
	delete(c.pending, ack.ID)
	ch <- ack
}

func (c *Client) handleOffer(ctx context.Context, sdp string) {
	if !c.cfg.Media {
		c.logger.Warn().Msg("offer received with media disabled, ignored")
		return
	}
	pc, err := c.peer(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("webrtc new pc")
		return
	}
	answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		c.logger.Error().Err(err).Msg("webrtc apply offer")
		return
	}
	if err := c.sendJSON(sdpMsg{Type: msgAnswer, SDP: answer.SDP}); err != nil {
		c.logger.Error().Err(err).Msg("send answer")
	}
}

func (c *Client) handleCandidate(msg candidateMsg) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		c.logger.Warn().Msg("candidate before offer, ignored")
		return
	}
	cand := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMLineIndex: msg.SDPMLineIndex}
	if msg.SDPMid != "" {
		cand.SDPMid = &msg.SDPMid
	}
	if err := pc.AddICECandidate(cand); err != nil {
		c.logger.Error().Err(err).Msg("add ice candidate")
	}
}

// peer returns the subscriber connection, creating it on the first offer.
func (c *Client) peer(ctx context.Context) (*rtc.WebRTCConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc != nil && !c.pc.IsClosed() {
		return c.pc, nil
	}
	pc, err := rtc.NewWebRTCConnection(c.api, rtc.ConfigFromURLs(c.cfg.ICEServers), "room")
	if err != nil {
		return nil, err
	}
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		msg := candidateMsg{Type: msgCandidate, Candidate: ci.Candidate, SDPMLineIndex: ci.SDPMLineIndex}
		if ci.SDPMid != nil {
			msg.SDPMid = *ci.SDPMid
		}
		if err := c.sendJSON(msg); err != nil {
			c.logger.Warn().Err(err).Msg("send candidate")
		}
	})
	pc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.onTrack(ctx, pc, track, receiver)
	})
	if err := pc.Start(ctx); err != nil {
		pc.Close()
		return nil, err
	}
	c.pc = pc
	return pc, nil
}

// onTrack relays a remote track and publishes it to the sink. The stream id
// names the participant; video tracks whose id mentions "screen" are shares.
func (c *Client) onTrack(ctx context.Context, pc *rtc.WebRTCConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	id := domain.ParticipantID(track.StreamID())
	kind := kindOf(track.Kind(), track.ID())
	key := trackKey(id, kind)

	var onPacket func(*rtp.Packet)
	if kind == domain.TrackMicrophone {
		if extID, ok := rtc.AudioLevelExtensionID(receiver.GetParameters()); ok {
			sampler := rtc.NewLevelSampler(c.cfg.LevelInterval, func(level float64) {
				c.sink.OnAudioLevel(id, level)
			})
			onPacket = func(pkt *rtp.Packet) {
				if level, ok := rtc.AudioLevel(pkt, extID); ok {
					sampler.Observe(level)
				}
			}
		}
	}
	relay := c.relays.StartRelay(ctx, key, track, onPacket)

	var onAttach func()
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		ssrc := track.SSRC()
		onAttach = func() {
			if err := pc.RequestKeyframe(ssrc); err != nil {
				c.logger.Debug().Err(err).Str("track", key).Msg("keyframe request failed")
			}
		}
	}
	c.sink.OnTrackPublished(id, kind, rtc.NewRemoteTrack(key, relay, onAttach))
}

func (c *Client) teardown() {
	c.mu.Lock()
	c.send = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	members := slices.Sorted(maps.Keys(c.members))
	clear(c.members)
	pc := c.pc
	c.pc = nil
	c.mu.Unlock()

	c.relays.StopAll()
	if pc != nil {
		pc.Close()
	}
	for _, id := range members {
		c.sink.OnParticipantLeft(id)
	}
	c.logger.Info().Int("members", len(members)).Msg("disconnected")
}

func kindOf(codec webrtc.RTPCodecType, trackID string) domain.TrackKind {
	switch {
	case codec == webrtc.RTPCodecTypeAudio:
		return domain.TrackMicrophone
	case strings.Contains(strings.ToLower(trackID), "screen"):
		return domain.TrackScreen
	default:
		return domain.TrackCamera
	}
}

func trackKey(id domain.ParticipantID, kind domain.TrackKind) string {
	return string(id) + "/" + string(kind)
}
