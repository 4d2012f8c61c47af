package sfu

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/studycall/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

var ErrRelayStopped = errors.New("relay stopped")

// PacketSource yields RTP packets. *webrtc.TrackRemote implements it.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay copies packets from one remote track to every attached render target.
type Relay struct {
	Src PacketSource

	mu        sync.RWMutex
	outTracks map[core.TargetID]*OutTrack

	onPacket func(*rtp.Packet)
	stopped  atomic.Bool
	done     chan struct{}
	cancel   context.CancelFunc
}

func NewRelay(src PacketSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:       src,
		outTracks: make(map[core.TargetID]*OutTrack),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// OnPacket installs a hook that sees every packet before it is forwarded.
// Must be set before the loop starts.
func (r *Relay) OnPacket(fn func(*rtp.Packet)) { r.onPacket = fn }

// Done is closed once the loop exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) Stopped() bool { return r.stopped.Load() }

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	defer r.stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP ended, stopping")
			return
		}
		if r.onPacket != nil {
			r.onPacket(pkt)
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[core.TargetID]*OutTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.TargetID, 0, len(snapshot))
	for target, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, target)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("target", string(target)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, target)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, target := range dirty {
		if ot, ok := r.outTracks[target]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, target)
		}
	}
}

func (r *Relay) stop() {
	r.stopped.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	for target, ot := range r.outTracks {
		ot.MarkDelete()
		delete(r.outTracks, target)
	}
}

// AddOutTrack starts feeding target. It fails once the source ended.
func (r *Relay) AddOutTrack(target core.TargetID, ot *OutTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return ErrRelayStopped
	}
	r.outTracks[target] = ot
	return nil
}

// RemoveOutTrack stops feeding target. Unknown targets are ignored.
func (r *Relay) RemoveOutTrack(target core.TargetID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[target]; ok {
		ot.MarkDelete()
		delete(r.outTracks, target)
	}
}

// Targets returns how many render targets the relay currently feeds.
func (r *Relay) Targets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
