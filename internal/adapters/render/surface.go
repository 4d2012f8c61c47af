// Package render exposes layout slots as outbound WebRTC tracks. Every slot
// target is one TrackLocalStaticRTP; whatever relay is bound to the slot
// writes its packets there, and viewer peer connections send them on.
package render

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/core"
)

const streamID = "studycall"

var ErrNoTrack = errors.New("render target has no track")

var (
	_ core.Surface      = (*Surface)(nil)
	_ core.RenderTarget = (*Target)(nil)
)

// Target is one slot of the rendered call.
type Target struct {
	id      core.TargetID
	track   *webrtc.TrackLocalStaticRTP
	packets atomic.Uint64
}

func (t *Target) ID() core.TargetID                   { return t.id }
func (t *Target) Track() *webrtc.TrackLocalStaticRTP { return t.track }
func (t *Target) Packets() uint64                    { return t.packets.Load() }

func (t *Target) WriteRTP(pkt *rtp.Packet) error {
	if t.track == nil {
		return ErrNoTrack
	}
	t.packets.Add(1)
	return t.track.WriteRTP(pkt)
}

// Surface owns the slot targets. Targets are created up front for known
// slots and lazily for anything else.
type Surface struct {
	codec  webrtc.RTPCodecCapability
	logger zerolog.Logger

	mu      sync.RWMutex
	targets map[core.TargetID]*Target
	onNew   []func(*Target)
}

func NewSurface(mimeType string, ids []core.TargetID) (*Surface, error) {
	s := &Surface{
		codec:   webrtc.RTPCodecCapability{MimeType: mimeType},
		logger:  log.With().Str("module", "render").Logger(),
		targets: make(map[core.TargetID]*Target, len(ids)),
	}
	for _, id := range ids {
		if _, err := s.create(id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Surface) Target(id core.TargetID) core.RenderTarget {
	s.mu.RLock()
	t, ok := s.targets[id]
	s.mu.RUnlock()
	if ok {
		return t
	}
	t, err := s.create(id)
	if err != nil {
		s.logger.Error().Err(err).Str("target", string(id)).Msg("cannot create render target")
		return nil
	}
	return t
}

// Targets returns every target sorted by id.
func (s *Surface) Targets() []*Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Target, 0, len(s.targets))
	for _, id := range slices.Sorted(maps.Keys(s.targets)) {
		out = append(out, s.targets[id])
	}
	return out
}

// OnTarget registers fn for targets created after construction.
func (s *Surface) OnTarget(fn func(*Target)) {
	s.mu.Lock()
	s.onNew = append(s.onNew, fn)
	s.mu.Unlock()
}

func (s *Surface) create(id core.TargetID) (*Target, error) {
	s.mu.Lock()
	if t, ok := s.targets[id]; ok {
		s.mu.Unlock()
		return t, nil
	}
	track, err := webrtc.NewTrackLocalStaticRTP(s.codec, string(id), streamID)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("new local track %s: %w", id, err)
	}
	t := &Target{id: id, track: track}
	s.targets[id] = t
	hooks := slices.Clone(s.onNew)
	s.mu.Unlock()

	s.logger.Debug().Str("target", string(id)).Msg("render target created")
	for _, fn := range hooks {
		fn(t)
	}
	return t, nil
}
