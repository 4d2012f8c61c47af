package core

import (
	"encoding/json"

	"github.com/dkeye/studycall/internal/domain"
)

// TrackHandle wraps one published media track. Its binding state is only
// mutated by the Binder; everything else reads it.
type TrackHandle struct {
	trackID string
	kind    domain.TrackKind
	owner   domain.ParticipantID
	media   MediaTrack

	attached RenderTarget
	released bool
}

func NewTrackHandle(owner domain.ParticipantID, kind domain.TrackKind, media MediaTrack) *TrackHandle {
	h := &TrackHandle{kind: kind, owner: owner, media: media}
	if media != nil {
		h.trackID = media.ID()
	}
	return h
}

func (h *TrackHandle) TrackID() string             { return h.trackID }
func (h *TrackHandle) Kind() domain.TrackKind      { return h.kind }
func (h *TrackHandle) Owner() domain.ParticipantID { return h.owner }

// Released reports whether the handle was retired after unpublish or leave.
func (h *TrackHandle) Released() bool { return h.released }

// AttachedTarget reports the target currently displaying this track.
func (h *TrackHandle) AttachedTarget() (TargetID, bool) {
	if h == nil || h.attached == nil {
		return "", false
	}
	return h.attached.ID(), true
}

func (h *TrackHandle) MarshalJSON() ([]byte, error) {
	out := struct {
		TrackID string               `json:"track_id"`
		Kind    domain.TrackKind     `json:"kind"`
		Owner   domain.ParticipantID `json:"owner"`
		Target  TargetID             `json:"target,omitempty"`
	}{
		TrackID: h.trackID,
		Kind:    h.kind,
		Owner:   h.owner,
	}
	out.Target, _ = h.AttachedTarget()
	return json.Marshal(out)
}
