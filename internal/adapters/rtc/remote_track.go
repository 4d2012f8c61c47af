package rtc

import (
	"fmt"

	"github.com/dkeye/studycall/internal/app/sfu"
	"github.com/dkeye/studycall/internal/core"
)

var _ core.MediaTrack = (*RemoteTrack)(nil)

// RemoteTrack exposes a relayed remote track to the binder. Attaching it
// starts forwarding RTP into the target; the target must accept packets.
type RemoteTrack struct {
	id    string
	relay *sfu.Relay
	// onAttach runs after every successful attach, e.g. to request a keyframe.
	onAttach func()
}

func NewRemoteTrack(id string, relay *sfu.Relay, onAttach func()) *RemoteTrack {
	return &RemoteTrack{id: id, relay: relay, onAttach: onAttach}
}

func (t *RemoteTrack) ID() string { return t.id }

func (t *RemoteTrack) Attach(target core.RenderTarget) error {
	sink, ok := target.(sfu.PacketSink)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnsupportedTarget, target.ID())
	}
	if err := t.relay.AddOutTrack(target.ID(), sfu.NewOutTrack(sink)); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrTrackEnded, t.id, err)
	}
	if t.onAttach != nil {
		t.onAttach()
	}
	return nil
}

func (t *RemoteTrack) Detach(target core.RenderTarget) {
	t.relay.RemoveOutTrack(target.ID())
}
