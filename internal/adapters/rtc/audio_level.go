package rtc

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// AudioLevelURI is the RFC 6464 client-to-mixer audio level header extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// AudioLevelExtensionID finds the negotiated id of the audio level extension.
func AudioLevelExtensionID(params webrtc.RTPParameters) (uint8, bool) {
	for _, ext := range params.HeaderExtensions {
		if ext.URI == AudioLevelURI && ext.ID > 0 && ext.ID < 256 {
			return uint8(ext.ID), true
		}
	}
	return 0, false
}

// AudioLevel reads the level carried by pkt in dBov (0 loudest, -127 silence).
func AudioLevel(pkt *rtp.Packet, extID uint8) (float64, bool) {
	if pkt == nil || extID == 0 {
		return 0, false
	}
	raw := pkt.GetExtension(extID)
	if len(raw) == 0 {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return -float64(ext.Level), true
}

// LevelSampler forwards at most one audio level per interval, keeping the
// loudest sample seen in between. A held sample is discarded once samples
// stop arriving for a full interval.
type LevelSampler struct {
	interval time.Duration
	now      func() time.Time
	emit     func(level float64)

	mu         sync.Mutex
	last       time.Time
	lastSample time.Time
	pending    float64
	has        bool
}

func NewLevelSampler(interval time.Duration, emit func(level float64)) *LevelSampler {
	return &LevelSampler{interval: interval, now: time.Now, emit: emit}
}

func (s *LevelSampler) Observe(level float64) {
	s.mu.Lock()
	now := s.now()
	if s.has && now.Sub(s.lastSample) >= s.interval {
		s.has = false
	}
	if !s.has || level > s.pending {
		s.pending = level
	}
	s.has = true
	s.lastSample = now
	if now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return
	}
	out := s.pending
	s.last, s.has = now, false
	s.mu.Unlock()
	s.emit(out)
}
