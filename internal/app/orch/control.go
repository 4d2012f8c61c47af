package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
)

var (
	ErrUnknownIntent = errors.New("unknown intent")
	ErrNotJoined     = errors.New("local participant has not joined")
	ErrNoTransport   = errors.New("no transport")
)

// Intent is a user control action.
type Intent string

const (
	IntentMute        Intent = "mute"
	IntentCamera      Intent = "camera"
	IntentScreenShare Intent = "screen_share"
	IntentPIP         Intent = "pip"
)

func ParseIntent(s string) (Intent, error) {
	switch in := Intent(s); in {
	case IntentMute, IntentCamera, IntentScreenShare, IntentPIP:
		return in, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, s)
}

// Notice is a user-visible message, emitted when an optimistic toggle was
// rolled back.
type Notice struct {
	Intent  Intent    `json:"intent"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	At      time.Time `json:"at"`
}

func (o *Orchestrator) ToggleMute()        { o.Toggle(IntentMute) }
func (o *Orchestrator) ToggleCamera()      { o.Toggle(IntentCamera) }
func (o *Orchestrator) ToggleScreenShare() { o.Toggle(IntentScreenShare) }
func (o *Orchestrator) TogglePIP()         { o.Toggle(IntentPIP) }

// Toggle queues a control intent. It returns false once the engine stopped.
func (o *Orchestrator) Toggle(in Intent) bool {
	return o.enqueue(func(o *Orchestrator) { o.toggle(in) })
}

func (o *Orchestrator) toggle(in Intent) {
	if in == IntentPIP {
		o.pipExpanded = !o.pipExpanded
		o.dirty = true
		return
	}
	if o.inflight[in] {
		o.logger.Debug().Str("intent", string(in)).Msg("toggle already in flight, ignored")
		return
	}
	local, ok := o.store.Local()
	if !ok {
		o.notify(Notice{Intent: in, Message: "cannot toggle before joining", Err: ErrNotJoined, At: o.now()})
		return
	}

	prev := flagOf(local, in)
	o.setFlag(local.ID, in, !prev)
	o.inflight[in] = true

	call := o.request(in)
	ctx, timeout := o.ctx, o.cfg.CommandTimeout
	go func() {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := call(cctx)
		o.enqueue(func(o *Orchestrator) { o.toggleDone(in, local.ID, prev, err) })
	}()
}

func (o *Orchestrator) toggleDone(in Intent, id domain.ParticipantID, prev bool, err error) {
	delete(o.inflight, in)
	if err == nil {
		o.logger.Debug().Str("intent", string(in)).Msg("toggle accepted")
		return
	}
	// only roll back if nothing confirmed a different state meanwhile
	if p, ok := o.store.Get(id); ok && flagOf(p, in) == !prev {
		o.setFlag(id, in, prev)
	}
	o.notify(Notice{
		Intent:  in,
		Message: fmt.Sprintf("toggle %s failed", in),
		Err:     err,
		At:      o.now(),
	})
}

func (o *Orchestrator) request(in Intent) func(context.Context) error {
	if o.transport == nil {
		return func(context.Context) error { return ErrNoTransport }
	}
	switch in {
	case IntentMute:
		return o.transport.RequestToggleMute
	case IntentCamera:
		return o.transport.RequestToggleCamera
	default:
		return o.transport.RequestToggleScreenShare
	}
}

func flagOf(p core.Participant, in Intent) bool {
	switch in {
	case IntentMute:
		return p.IsMuted
	case IntentCamera:
		return p.IsCameraOff
	case IntentScreenShare:
		return p.IsScreenSharing
	}
	return false
}

// setFlag applies an optimistic or rolled back control state. A screen share
// start only flips the flag; the layout switches once the track arrives.
func (o *Orchestrator) setFlag(id domain.ParticipantID, in Intent, v bool) {
	switch in {
	case IntentMute:
		o.store.Batch(func() {
			o.store.SetMuted(id, v)
			if v && o.speaking.Reset(id) {
				o.store.SetSpeaking(id, false)
			}
		})
	case IntentCamera:
		o.store.SetCameraOff(id, v)
	case IntentScreenShare:
		o.store.SetScreenSharing(id, v)
	}
}
