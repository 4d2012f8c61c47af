package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// PacketSink receives forwarded RTP. *webrtc.TrackLocalStaticRTP implements it.
type PacketSink interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack is one render target fed by a relay.
type OutTrack struct {
	Sink  PacketSink
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(sink PacketSink) *OutTrack {
	return &OutTrack{Sink: sink}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.Store(int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.Store(int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
