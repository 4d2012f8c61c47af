package room

import (
	"encoding/json"

	"github.com/dkeye/studycall/internal/domain"
)

// Message types exchanged with the room server.
const (
	msgJoin             = "join"
	msgRoomState        = "room_state"
	msgMemberJoined     = "member_joined"
	msgMemberLeft       = "member_left"
	msgMemberUpdated    = "member_updated"
	msgMuteChanged      = "mute_changed"
	msgTrackUnpublished = "track_unpublished"
	msgAudioLevel       = "audio_level"
	msgOffer            = "offer"
	msgAnswer           = "answer"
	msgCandidate        = "candidate"
	msgRequest          = "request"
	msgAck              = "ack"
	msgError            = "error"
	msgPing             = "ping"
	msgPong             = "pong"
)

// Actions carried by a request.
const (
	actionToggleMute        = "toggle_mute"
	actionToggleCamera      = "toggle_camera"
	actionToggleScreenShare = "toggle_screen_share"
)

type envelope struct {
	Type string `json:"type"`
}

type joinMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Media  bool   `json:"media"`
}

type member struct {
	ID        domain.ParticipantID `json:"id"`
	Name      string               `json:"name"`
	Local     bool                 `json:"local,omitempty"`
	Muted     bool                 `json:"muted,omitempty"`
	CameraOff bool                 `json:"camera_off,omitempty"`
	Sharing   bool                 `json:"sharing,omitempty"`
}

type roomStateMsg struct {
	Type    string   `json:"type"`
	Self    string   `json:"self"`
	Members []member `json:"members"`
}

type memberMsg struct {
	Type   string `json:"type"`
	Member member `json:"member"`
}

type memberLeftMsg struct {
	Type string               `json:"type"`
	ID   domain.ParticipantID `json:"id"`
}

type trackMsg struct {
	Type  string               `json:"type"`
	ID    domain.ParticipantID `json:"id"`
	Kind  string               `json:"kind"`
	Muted bool                 `json:"muted,omitempty"`
}

type audioLevelMsg struct {
	Type  string               `json:"type"`
	ID    domain.ParticipantID `json:"id"`
	Level float64              `json:"level"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type requestMsg struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action"`
}

type ackMsg struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
