package orch

import (
	"time"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
)

var _ core.EventSink = (*Orchestrator)(nil)

func (o *Orchestrator) OnParticipantJoined(id domain.ParticipantID, displayName string, isLocal bool) {
	o.enqueue(func(o *Orchestrator) { o.join(id, displayName, isLocal) })
}

func (o *Orchestrator) OnParticipantLeft(id domain.ParticipantID) {
	o.enqueue(func(o *Orchestrator) { o.leave(id) })
}

func (o *Orchestrator) OnTrackPublished(id domain.ParticipantID, kind domain.TrackKind, track core.MediaTrack) {
	o.enqueue(func(o *Orchestrator) { o.publishTrack(id, kind, track) })
}

func (o *Orchestrator) OnTrackUnpublished(id domain.ParticipantID, kind domain.TrackKind) {
	o.enqueue(func(o *Orchestrator) { o.unpublishTrack(id, kind) })
}

func (o *Orchestrator) OnMuteChanged(id domain.ParticipantID, kind domain.TrackKind, muted bool) {
	o.enqueue(func(o *Orchestrator) { o.muteChanged(id, kind, muted) })
}

// OnAudioLevel never blocks the caller; samples are dropped when the queue is full.
func (o *Orchestrator) OnAudioLevel(id domain.ParticipantID, level float64) {
	at := o.now()
	if !o.tryEnqueue(func(o *Orchestrator) { o.audioLevel(id, level, at) }) {
		o.logger.Trace().Str("participant", string(id)).Msg("audio level dropped")
	}
}

func (o *Orchestrator) join(id domain.ParticipantID, displayName string, isLocal bool) {
	o.store.Upsert(core.ParticipantUpdate{ID: id, DisplayName: &displayName, IsLocal: &isLocal})
}

func (o *Orchestrator) leave(id domain.ParticipantID) {
	o.speaking.Forget(id)
	if !o.store.Remove(id) {
		o.logger.Debug().Str("participant", string(id)).Msg("leave for unknown participant")
	}
}

// ensure synthesizes a record for events that reference a participant the
// engine never saw join.
func (o *Orchestrator) ensure(id domain.ParticipantID, event string) bool {
	if id == "" {
		return false
	}
	if o.store.Has(id) {
		return true
	}
	o.logger.Warn().
		Str("participant", string(id)).
		Str("event", event).
		Msg("event for unknown participant, synthesizing record")
	return o.store.Upsert(core.ParticipantUpdate{ID: id})
}

func (o *Orchestrator) publishTrack(id domain.ParticipantID, kind domain.TrackKind, track core.MediaTrack) {
	if track == nil || !o.ensure(id, "track_published") {
		return
	}
	h := core.NewTrackHandle(id, kind, track)
	o.store.Batch(func() {
		o.store.SetTrack(id, kind, h)
		switch kind {
		case domain.TrackCamera:
			o.store.SetCameraOff(id, false)
		case domain.TrackScreen:
			o.store.SetScreenSharing(id, true)
		}
	})
	o.logger.Debug().
		Str("participant", string(id)).
		Str("kind", string(kind)).
		Str("track", h.TrackID()).
		Msg("track published")
}

func (o *Orchestrator) unpublishTrack(id domain.ParticipantID, kind domain.TrackKind) {
	if !o.store.Has(id) {
		o.logger.Debug().Str("participant", string(id)).Msg("unpublish for unknown participant")
		return
	}
	o.store.Batch(func() {
		o.store.SetTrack(id, kind, nil)
		switch kind {
		case domain.TrackCamera:
			o.store.SetCameraOff(id, true)
		case domain.TrackScreen:
			o.store.SetScreenSharing(id, false)
		case domain.TrackMicrophone:
			o.speaking.Reset(id)
			o.store.SetSpeaking(id, false)
		}
	})
}

func (o *Orchestrator) muteChanged(id domain.ParticipantID, kind domain.TrackKind, muted bool) {
	if !o.ensure(id, "mute_changed") {
		return
	}
	switch kind {
	case domain.TrackMicrophone:
		o.store.Batch(func() {
			o.store.SetMuted(id, muted)
			if muted && o.speaking.Reset(id) {
				o.store.SetSpeaking(id, false)
			}
		})
	case domain.TrackCamera:
		o.store.SetCameraOff(id, muted)
	case domain.TrackScreen:
		o.store.SetScreenSharing(id, !muted)
	}
}

func (o *Orchestrator) audioLevel(id domain.ParticipantID, level float64, at time.Time) {
	p, ok := o.store.Get(id)
	if !ok || p.IsMuted {
		return
	}
	if speaking, changed := o.speaking.Observe(id, level, at); changed {
		o.store.SetSpeaking(id, speaking)
	}
}
