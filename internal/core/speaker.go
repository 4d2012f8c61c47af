package core

import (
	"time"

	"github.com/dkeye/studycall/internal/domain"
)

const DefaultPromoteAfter = 1500 * time.Millisecond

// SpeakerCandidate is one participant as seen by the sticky speaker selector.
// Candidates are passed in join order.
type SpeakerCandidate struct {
	ID            domain.ParticipantID
	IsLocal       bool
	Speaking      bool
	SpeakingSince time.Time
}

// SpeakerSelector keeps the main speaker sticky: the holder keeps the slot
// until another remote participant has spoken continuously for
// PromoteAfter, counted from the later of its speaking onset and the
// moment the holder was assigned.
type SpeakerSelector struct {
	promoteAfter time.Duration

	current    domain.ParticipantID
	assignedAt time.Time
}

func NewSpeakerSelector(promoteAfter time.Duration) *SpeakerSelector {
	return &SpeakerSelector{promoteAfter: promoteAfter}
}

func (s *SpeakerSelector) Current() domain.ParticipantID { return s.current }

// Update re-evaluates the holder and reports whether it changed.
func (s *SpeakerSelector) Update(cands []SpeakerCandidate, now time.Time) (domain.ParticipantID, bool) {
	prev := s.current

	present := false
	for _, c := range cands {
		if c.ID == s.current {
			present = true
			break
		}
	}
	if !present && s.current != "" {
		s.current = ""
		s.assignedAt = time.Time{}
	}

	var (
		best     domain.ParticipantID
		bestHeld time.Duration
	)
	for _, c := range cands {
		if c.ID == s.current || c.IsLocal || !c.Speaking {
			continue
		}
		since := c.SpeakingSince
		if s.assignedAt.After(since) {
			since = s.assignedAt
		}
		held := now.Sub(since)
		if held < s.promoteAfter {
			continue
		}
		// strictly longer wins so ties resolve to the earlier joiner
		if best == "" || held > bestHeld {
			best, bestHeld = c.ID, held
		}
	}
	if best != "" {
		s.current = best
		s.assignedAt = now
	}
	return s.current, s.current != prev
}
