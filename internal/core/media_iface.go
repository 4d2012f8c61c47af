package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	ErrTrackEnded        = errors.New("track ended")
	ErrUnsupportedTarget = errors.New("unsupported render target")
)

// TargetID names a surface slot exposed by the rendering layer.
type TargetID string

// RenderTarget is a surface a bound track displays into.
type RenderTarget interface {
	ID() TargetID
}

// Surface resolves target ids into render targets. Owned by the rendering layer.
type Surface interface {
	Target(id TargetID) RenderTarget
}

// MediaTrack is the transport side of a live track. Attach and Detach are
// only ever called by the Binder.
type MediaTrack interface {
	ID() string
	// Attach starts delivering media into target. Returns an error when the
	// track has already ended or the target cannot display it.
	Attach(target RenderTarget) error
	// Detach stops delivery into target. Detaching an unattached target is a no-op.
	Detach(target RenderTarget)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
