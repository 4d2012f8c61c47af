package core

import (
	"slices"

	"github.com/dkeye/studycall/internal/domain"
)

// LayoutConfig caps the secondary areas.
type LayoutConfig struct {
	StripSlots     int
	ColumnSlots    int
	ThumbnailSlots int
}

func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{StripSlots: 5, ColumnSlots: 3, ThumbnailSlots: 5}
}

// maxGridTiles is the largest participant count laid out as a grid.
const maxGridTiles = 4

// Targets lists every render target a decision under c can place a track in.
func (c LayoutConfig) Targets() []TargetID {
	out := []TargetID{
		SlotTarget(domain.Slot{Area: domain.AreaMain}),
		SlotTarget(domain.Slot{Area: domain.AreaScreen}),
		SlotTarget(domain.Slot{Area: domain.AreaPIP}),
	}
	areas := []struct {
		area domain.Area
		n    int
	}{
		{domain.AreaTile, maxGridTiles},
		{domain.AreaStrip, c.StripSlots},
		{domain.AreaColumn, c.ColumnSlots},
		{domain.AreaThumb, c.ThumbnailSlots},
	}
	for _, a := range areas {
		for i := range a.n {
			out = append(out, SlotTarget(domain.Slot{Area: a.area, Index: i}))
		}
	}
	return out
}

// LayoutParticipant is the slice of participant state the layout depends on.
type LayoutParticipant struct {
	ID      domain.ParticipantID
	IsLocal bool
	Sharing bool
}

// LayoutInput lists participants in join order plus the sticky speaker.
type LayoutInput struct {
	Participants []LayoutParticipant
	Speaker      domain.ParticipantID
}

func LayoutInputFrom(ps []Participant, speaker domain.ParticipantID) LayoutInput {
	in := LayoutInput{Speaker: speaker, Participants: make([]LayoutParticipant, 0, len(ps))}
	for i := range ps {
		in.Participants = append(in.Participants, LayoutParticipant{
			ID:      ps[i].ID,
			IsLocal: ps[i].IsLocal,
			Sharing: ps[i].SharingScreen(),
		})
	}
	return in
}

// Placement puts one track kind of a participant into a slot.
type Placement struct {
	Participant domain.ParticipantID `json:"participant_id"`
	Slot        domain.Slot          `json:"slot"`
	Track       domain.TrackKind     `json:"track"`
}

// Decision is the layout derived from a LayoutInput.
type Decision struct {
	Variant    domain.Variant       `json:"variant"`
	Placements []Placement          `json:"placements"`
	Main       domain.ParticipantID `json:"main,omitempty"`
	Presenter  domain.ParticipantID `json:"presenter,omitempty"`
	Overflow   int                  `json:"overflow"`
	Count      int                  `json:"count"`
}

// Assignment maps each placed participant to its primary slot.
func (d Decision) Assignment() map[domain.ParticipantID]domain.Slot {
	out := make(map[domain.ParticipantID]domain.Slot, len(d.Placements))
	for _, p := range d.Placements {
		if _, ok := out[p.Participant]; !ok {
			out[p.Participant] = p.Slot
		}
	}
	return out
}

// Area returns the participants placed in area, in slot order.
func (d Decision) Area(a domain.Area) []domain.ParticipantID {
	var out []domain.ParticipantID
	for _, p := range d.Placements {
		if p.Slot.Area == a {
			out = append(out, p.Participant)
		}
	}
	return out
}

func (d Decision) Equal(o Decision) bool {
	return d.Variant == o.Variant &&
		d.Main == o.Main &&
		d.Presenter == o.Presenter &&
		d.Overflow == o.Overflow &&
		d.Count == o.Count &&
		slices.Equal(d.Placements, o.Placements)
}

// SlotTarget is the render target id backing a slot.
func SlotTarget(s domain.Slot) TargetID {
	return TargetID(s.String())
}

// VariantFor maps participant count and share state to a variant.
func VariantFor(count int, sharing bool) domain.Variant {
	switch {
	case sharing:
		return domain.VariantScreenShare
	case count <= 0:
		return domain.VariantEmpty
	case count == 1:
		return domain.VariantSolo
	case count == 2:
		return domain.VariantPair
	case count <= maxGridTiles:
		return domain.VariantGrid
	default:
		return domain.VariantSpeakerFocus
	}
}

// Decide computes the layout. It is pure: equal inputs give equal decisions.
func Decide(in LayoutInput, cfg LayoutConfig) Decision {
	ps := in.Participants
	presenter := -1
	for i, p := range ps {
		if p.Sharing {
			presenter = i
			break
		}
	}

	d := Decision{Count: len(ps), Variant: VariantFor(len(ps), presenter >= 0)}
	switch d.Variant {
	case domain.VariantEmpty:
	case domain.VariantSolo:
		d.Main = ps[0].ID
		d.place(ps[0].ID, domain.AreaMain, 0, domain.TrackCamera)
	case domain.VariantPair, domain.VariantGrid:
		for i, p := range ps {
			d.place(p.ID, domain.AreaTile, i, domain.TrackCamera)
		}
	case domain.VariantSpeakerFocus:
		main := 0
		for i, p := range ps {
			if in.Speaker != "" && p.ID == in.Speaker {
				main = i
				break
			}
		}
		d.Main = ps[main].ID
		d.place(d.Main, domain.AreaMain, 0, domain.TrackCamera)
		rest := make([]domain.ParticipantID, 0, len(ps)-1)
		for i, p := range ps {
			if i != main {
				rest = append(rest, p.ID)
			}
		}
		d.Overflow = d.fill(rest, cfg.StripSlots, domain.AreaStrip, cfg.ColumnSlots, domain.AreaColumn)
	case domain.VariantScreenShare:
		d.Presenter = ps[presenter].ID
		d.Main = d.Presenter
		d.place(d.Presenter, domain.AreaScreen, 0, domain.TrackScreen)
		local := domain.ParticipantID("")
		for _, p := range ps {
			if p.IsLocal {
				local = p.ID
				d.place(local, domain.AreaPIP, 0, domain.TrackCamera)
				break
			}
		}
		others := make([]domain.ParticipantID, 0, len(ps))
		for _, p := range ps {
			if p.ID != d.Presenter && p.ID != local {
				others = append(others, p.ID)
			}
		}
		d.Overflow = d.fill(others, cfg.ThumbnailSlots, domain.AreaThumb, 0, "")
	}
	return d
}

func (d *Decision) place(id domain.ParticipantID, area domain.Area, idx int, kind domain.TrackKind) {
	d.Placements = append(d.Placements, Placement{
		Participant: id,
		Slot:        domain.Slot{Area: area, Index: idx},
		Track:       kind,
	})
}

// fill places ids into a first area then a second one and returns how many did not fit.
func (d *Decision) fill(ids []domain.ParticipantID, firstCap int, first domain.Area, secondCap int, second domain.Area) int {
	firstCap, secondCap = max(firstCap, 0), max(secondCap, 0)
	for i, id := range ids {
		switch {
		case i < firstCap:
			d.place(id, first, i, domain.TrackCamera)
		case i < firstCap+secondCap:
			d.place(id, second, i-firstCap, domain.TrackCamera)
		default:
			return len(ids) - i
		}
	}
	return 0
}

// Selector caches the last decision and recomputes only when the
// participant set, the share state or, in speaker focus, the main speaker
// changed.
type Selector struct {
	cfg     LayoutConfig
	members []LayoutParticipant
	speaker domain.ParticipantID
	last    Decision
	valid   bool
}

func NewSelector(cfg LayoutConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select returns the decision for in and whether it differs from the previous one.
func (s *Selector) Select(in LayoutInput) (Decision, bool) {
	var speaker domain.ParticipantID
	if speakerMatters(in) {
		speaker = in.Speaker
	}
	if s.valid && speaker == s.speaker && slices.Equal(in.Participants, s.members) {
		return s.last, false
	}
	d := Decide(in, s.cfg)
	changed := !s.valid || !d.Equal(s.last)
	s.members = slices.Clone(in.Participants)
	s.speaker, s.last, s.valid = speaker, d, true
	return d, changed
}

func (s *Selector) Last() (Decision, bool) { return s.last, s.valid }

// speakerMatters reports whether in's speaker can change the decision.
func speakerMatters(in LayoutInput) bool {
	for _, p := range in.Participants {
		if p.Sharing {
			return false
		}
	}
	return VariantFor(len(in.Participants), false) == domain.VariantSpeakerFocus
}
