package core

import (
	"time"

	"github.com/dkeye/studycall/internal/domain"
)

// SpeakingConfig holds the hysteresis parameters. Levels are dBov.
type SpeakingConfig struct {
	EnterLevel  float64
	ExitLevel   float64
	MinSpeaking time.Duration
	MinSilence  time.Duration
	// MaxGap is the longest pause between samples that still counts as one
	// continuous run. Zero means MinSpeaking.
	MaxGap time.Duration
}

func DefaultSpeakingConfig() SpeakingConfig {
	return SpeakingConfig{
		EnterLevel:  -50,
		ExitLevel:   -60,
		MinSpeaking: 300 * time.Millisecond,
		MinSilence:  300 * time.Millisecond,
		MaxGap:      150 * time.Millisecond,
	}
}

type speakingState struct {
	speaking      bool
	speakingSince time.Time
	aboveSince    time.Time
	belowSince    time.Time
	lastSample    time.Time
}

// SpeakingDetector turns audio level samples into a debounced speaking flag
// per participant. A participant starts speaking once its level stays above
// EnterLevel for MinSpeaking and stops once it stays below ExitLevel for
// MinSilence; levels between the two thresholds keep the current state.
type SpeakingDetector struct {
	cfg    SpeakingConfig
	states map[domain.ParticipantID]*speakingState
}

func NewSpeakingDetector(cfg SpeakingConfig) *SpeakingDetector {
	return &SpeakingDetector{
		cfg:    cfg,
		states: make(map[domain.ParticipantID]*speakingState),
	}
}

// Observe feeds one sample and reports the resulting flag and whether it flipped.
func (d *SpeakingDetector) Observe(id domain.ParticipantID, level float64, at time.Time) (speaking, changed bool) {
	st, ok := d.states[id]
	if !ok {
		st = &speakingState{}
		d.states[id] = st
	}
	stale := !st.lastSample.IsZero() && at.Sub(st.lastSample) > d.maxGap()
	st.lastSample = at

	if !st.speaking {
		st.belowSince = time.Time{}
		if stale {
			st.aboveSince = time.Time{}
		}
		if level <= d.cfg.EnterLevel {
			st.aboveSince = time.Time{}
			return false, false
		}
		if st.aboveSince.IsZero() {
			st.aboveSince = at
		}
		if at.Sub(st.aboveSince) < d.cfg.MinSpeaking {
			return false, false
		}
		st.speaking = true
		st.speakingSince = at
		st.aboveSince = time.Time{}
		return true, true
	}

	st.aboveSince = time.Time{}
	if level >= d.cfg.ExitLevel {
		st.belowSince = time.Time{}
		return true, false
	}
	if st.belowSince.IsZero() {
		st.belowSince = at
	}
	if at.Sub(st.belowSince) < d.cfg.MinSilence {
		return true, false
	}
	st.toSilent()
	return false, true
}

// Sweep silences speakers whose samples stopped arriving for MinSilence
// and returns their ids. Silent participants with stale samples lose any
// partial onset.
func (d *SpeakingDetector) Sweep(now time.Time) []domain.ParticipantID {
	var out []domain.ParticipantID
	for id, st := range d.states {
		if !st.speaking && now.Sub(st.lastSample) > d.maxGap() {
			st.aboveSince = time.Time{}
		}
		if st.speaking && now.Sub(st.lastSample) >= d.cfg.MinSilence {
			st.toSilent()
			out = append(out, id)
		}
	}
	return out
}

// Reset forces id silent, e.g. when its microphone is muted.
// Returns true if it was speaking.
func (d *SpeakingDetector) Reset(id domain.ParticipantID) bool {
	st, ok := d.states[id]
	if !ok {
		return false
	}
	was := st.speaking
	st.toSilent()
	return was
}

func (d *SpeakingDetector) Forget(id domain.ParticipantID) {
	delete(d.states, id)
}

func (d *SpeakingDetector) Speaking(id domain.ParticipantID) bool {
	st, ok := d.states[id]
	return ok && st.speaking
}

// SpeakingSince returns when the current speaking run started.
func (d *SpeakingDetector) SpeakingSince(id domain.ParticipantID) (time.Time, bool) {
	st, ok := d.states[id]
	if !ok || !st.speaking {
		return time.Time{}, false
	}
	return st.speakingSince, true
}

func (d *SpeakingDetector) maxGap() time.Duration {
	if d.cfg.MaxGap > 0 {
		return d.cfg.MaxGap
	}
	return d.cfg.MinSpeaking
}

func (st *speakingState) toSilent() {
	st.speaking = false
	st.speakingSince = time.Time{}
	st.aboveSince = time.Time{}
	st.belowSince = time.Time{}
}
