package core

import (
	"context"

	"github.com/dkeye/studycall/internal/domain"
)

//go:generate mockgen -destination=mocks/transport_mock.go -package=mocks . Transport

// Transport is the outbound half of the external media transport.
// Each request resolves once the transport accepted or rejected it; the
// confirmed state change arrives later through the EventSink.
type Transport interface {
	RequestToggleMute(ctx context.Context) error
	RequestToggleCamera(ctx context.Context) error
	RequestToggleScreenShare(ctx context.Context) error
}

// EventSink is the inbound half: callbacks the transport invokes as the room changes.
// Implementations must be safe to call from transport goroutines.
type EventSink interface {
	OnParticipantJoined(id domain.ParticipantID, displayName string, isLocal bool)
	OnParticipantLeft(id domain.ParticipantID)
	OnTrackPublished(id domain.ParticipantID, kind domain.TrackKind, track MediaTrack)
	OnTrackUnpublished(id domain.ParticipantID, kind domain.TrackKind)
	OnMuteChanged(id domain.ParticipantID, kind domain.TrackKind, muted bool)
	// OnAudioLevel reports a sample in dBov, 0 is loudest and -127 is silence.
	OnAudioLevel(id domain.ParticipantID, level float64)
}
