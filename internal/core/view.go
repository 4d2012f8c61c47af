package core

import (
	"maps"

	"github.com/dkeye/studycall/internal/domain"
)

// Tile is one rendered participant slot.
type Tile struct {
	ParticipantID   domain.ParticipantID `json:"participant_id"`
	Slot            domain.Slot          `json:"slot"`
	Target          TargetID             `json:"target"`
	DisplayName     string               `json:"display_name"`
	IsLocal         bool                 `json:"is_local"`
	IsSpeaking      bool                 `json:"is_speaking"`
	IsMuted         bool                 `json:"is_muted"`
	IsCameraOff     bool                 `json:"is_camera_off"`
	RenderableTrack *TrackHandle         `json:"renderable_track,omitempty"`
}

// Placeholder reports whether the tile shows the avatar instead of video.
func (t Tile) Placeholder() bool { return t.RenderableTrack == nil }

// View is the read-only frame handed to the rendering layer.
type View struct {
	Seq              uint64               `json:"seq"`
	Variant          domain.Variant       `json:"variant"`
	Tiles            []Tile               `json:"tiles"`
	OverflowCount    int                  `json:"overflow_count"`
	ParticipantCount int                  `json:"participant_count"`
	MainSpeaker      domain.ParticipantID `json:"main_speaker,omitempty"`
	Presenter        domain.ParticipantID `json:"presenter,omitempty"`
	PIPExpanded      bool                 `json:"pip_expanded"`
}

// Tile returns the first tile in area a.
func (v View) Tile(a domain.Area, idx int) (Tile, bool) {
	for _, t := range v.Tiles {
		if t.Slot.Area == a && t.Slot.Index == idx {
			return t, true
		}
	}
	return Tile{}, false
}

// DesiredBindings derives the target to handle table implied by a decision.
// Camera placements of participants with the camera off are left unbound.
func DesiredBindings(d Decision, lookup func(domain.ParticipantID) (Participant, bool)) map[TargetID]*TrackHandle {
	out := make(map[TargetID]*TrackHandle, len(d.Placements))
	for _, pl := range d.Placements {
		p, ok := lookup(pl.Participant)
		if !ok {
			continue
		}
		var h *TrackHandle
		switch pl.Track {
		case domain.TrackCamera:
			h = p.RenderableCamera()
		case domain.TrackScreen:
			if p.SharingScreen() {
				h = p.ScreenTrack
			}
		}
		if h != nil && !h.released {
			out[SlotTarget(pl.Slot)] = h
		}
	}
	return out
}

// SameBindings compares two desired binding tables.
func SameBindings(a, b map[TargetID]*TrackHandle) bool {
	return maps.Equal(a, b)
}

// BuildView renders a decision against the store contents and the actual
// bindings. A tile gets a renderable track only if the binder holds it on
// the tile's target.
func BuildView(d Decision, lookup func(domain.ParticipantID) (Participant, bool), b *Binder, pipExpanded bool) View {
	v := View{
		Variant:          d.Variant,
		OverflowCount:    d.Overflow,
		ParticipantCount: d.Count,
		Presenter:        d.Presenter,
		PIPExpanded:      pipExpanded,
		Tiles:            make([]Tile, 0, len(d.Placements)),
	}
	if d.Variant == domain.VariantSpeakerFocus {
		v.MainSpeaker = d.Main
	}
	for _, pl := range d.Placements {
		p, ok := lookup(pl.Participant)
		if !ok {
			continue
		}
		target := SlotTarget(pl.Slot)
		t := Tile{
			ParticipantID: p.ID,
			Slot:          pl.Slot,
			Target:        target,
			DisplayName:   p.DisplayName,
			IsLocal:       p.IsLocal,
			IsSpeaking:    p.IsSpeaking,
			IsMuted:       p.IsMuted,
			IsCameraOff:   p.IsCameraOff,
		}
		if h, ok := b.Bound(target); ok && h.owner == p.ID && h.kind == pl.Track {
			t.RenderableTrack = h
		}
		v.Tiles = append(v.Tiles, t)
	}
	return v
}
