package core

import (
	"maps"
	"slices"

	"github.com/dkeye/studycall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Participant is one member of the call as the engine sees it.
type Participant struct {
	ID              domain.ParticipantID `json:"id"`
	DisplayName     string               `json:"display_name"`
	IsLocal         bool                 `json:"is_local"`
	IsMuted         bool                 `json:"is_muted"`
	IsCameraOff     bool                 `json:"is_camera_off"`
	IsScreenSharing bool                 `json:"is_screen_sharing"`
	IsSpeaking      bool                 `json:"is_speaking"`

	CameraTrack *TrackHandle `json:"camera_track,omitempty"`
	MicTrack    *TrackHandle `json:"mic_track,omitempty"`
	ScreenTrack *TrackHandle `json:"screen_track,omitempty"`
}

func (p *Participant) Track(kind domain.TrackKind) *TrackHandle {
	switch kind {
	case domain.TrackCamera:
		return p.CameraTrack
	case domain.TrackMicrophone:
		return p.MicTrack
	case domain.TrackScreen:
		return p.ScreenTrack
	}
	return nil
}

func (p *Participant) setTrack(kind domain.TrackKind, h *TrackHandle) {
	switch kind {
	case domain.TrackCamera:
		p.CameraTrack = h
	case domain.TrackMicrophone:
		p.MicTrack = h
	case domain.TrackScreen:
		p.ScreenTrack = h
	}
}

// RenderableCamera is the camera handle a tile may display, nil while the camera is off.
func (p *Participant) RenderableCamera() *TrackHandle {
	if p.IsCameraOff {
		return nil
	}
	return p.CameraTrack
}

// SharingScreen reports an active screen-share track.
func (p *Participant) SharingScreen() bool {
	return p.IsScreenSharing && p.ScreenTrack != nil && !p.ScreenTrack.released
}

// ParticipantUpdate merges the non-nil fields into a participant record.
type ParticipantUpdate struct {
	ID              domain.ParticipantID
	DisplayName     *string
	IsLocal         *bool
	IsMuted         *bool
	IsCameraOff     *bool
	IsScreenSharing *bool
}

type ChangeKind uint8

const (
	ChangeMembership ChangeKind = 1 << iota
	ChangeTracks
	ChangeFlags
	ChangeSpeaking
)

func (k ChangeKind) Has(o ChangeKind) bool { return k&o != 0 }

// Change describes one logical store mutation, possibly spanning several fields.
type Change struct {
	Kinds ChangeKind
	IDs   []domain.ParticipantID
}

// Releaser retires handles the store drops. Implemented by Binder.
type Releaser interface {
	Release(h *TrackHandle)
}

// Store is the participant record store, the single writer of participant
// state. Not safe for concurrent use; the engine loop owns it.
type Store struct {
	releaser Releaser
	logger   zerolog.Logger

	byID  map[domain.ParticipantID]*Participant
	order []domain.ParticipantID

	subs    map[int]func(Change)
	nextSub int

	batchDepth int
	pending    Change
}

func NewStore(releaser Releaser) *Store {
	return &Store{
		releaser: releaser,
		logger:   log.With().Str("module", "core.store").Logger(),
		byID:     make(map[domain.ParticipantID]*Participant),
		subs:     make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every committed change and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

// Batch runs fn with notifications deferred; all mutations inside commit as
// one change.
func (s *Store) Batch(fn func()) {
	s.batchDepth++
	defer func() {
		s.batchDepth--
		s.commit()
	}()
	fn()
}

// Upsert inserts a participant on first sight and merges fields on update.
// An update without id is ignored.
func (s *Store) Upsert(u ParticipantUpdate) bool {
	if u.ID == "" {
		return false
	}
	p, ok := s.byID[u.ID]
	if !ok {
		p = &Participant{ID: u.ID, DisplayName: domain.DisplayNameOr("", u.ID), IsCameraOff: true}
		s.byID[u.ID] = p
		s.order = append(s.order, u.ID)
		s.mark(ChangeMembership, u.ID)
		s.logger.Info().Str("participant", string(u.ID)).Msg("participant added")
	}

	if u.DisplayName != nil {
		name := domain.DisplayNameOr(*u.DisplayName, u.ID)
		if name != p.DisplayName {
			p.DisplayName = name
			s.mark(ChangeFlags, u.ID)
		}
	}
	if u.IsLocal != nil && *u.IsLocal != p.IsLocal {
		if *u.IsLocal {
			s.demoteLocal(u.ID)
		}
		p.IsLocal = *u.IsLocal
		s.mark(ChangeMembership, u.ID)
	}
	s.setFlag(p, &p.IsMuted, u.IsMuted)
	s.setFlag(p, &p.IsCameraOff, u.IsCameraOff)
	s.setFlag(p, &p.IsScreenSharing, u.IsScreenSharing)

	s.commit()
	return true
}

// Remove releases every handle the participant owns, then deletes the record.
func (s *Store) Remove(id domain.ParticipantID) bool {
	p, ok := s.byID[id]
	if !ok {
		return false
	}
	for _, kind := range domain.TrackKinds {
		if h := p.Track(kind); h != nil {
			s.release(h)
			p.setTrack(kind, nil)
		}
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(o domain.ParticipantID) bool { return o == id })
	s.mark(ChangeMembership|ChangeTracks, id)
	s.logger.Info().Str("participant", string(id)).Msg("participant removed")
	s.commit()
	return true
}

// SetTrack replaces the handle of the given kind, releasing the previous one.
// Returns false for unknown participants.
func (s *Store) SetTrack(id domain.ParticipantID, kind domain.TrackKind, h *TrackHandle) bool {
	p, ok := s.byID[id]
	if !ok {
		return false
	}
	old := p.Track(kind)
	if old == h {
		return true
	}
	if old != nil {
		s.release(old)
	}
	p.setTrack(kind, h)
	s.mark(ChangeTracks, id)
	s.commit()
	return true
}

func (s *Store) SetMuted(id domain.ParticipantID, v bool) bool {
	return s.Upsert(ParticipantUpdate{ID: id, IsMuted: &v})
}

func (s *Store) SetCameraOff(id domain.ParticipantID, v bool) bool {
	return s.Upsert(ParticipantUpdate{ID: id, IsCameraOff: &v})
}

func (s *Store) SetScreenSharing(id domain.ParticipantID, v bool) bool {
	return s.Upsert(ParticipantUpdate{ID: id, IsScreenSharing: &v})
}

func (s *Store) SetSpeaking(id domain.ParticipantID, v bool) bool {
	p, ok := s.byID[id]
	if !ok {
		return false
	}
	if p.IsSpeaking != v {
		p.IsSpeaking = v
		s.mark(ChangeSpeaking, id)
		s.commit()
	}
	return true
}

// Reset removes every participant, releasing all handles.
func (s *Store) Reset() {
	s.Batch(func() {
		for _, id := range slices.Clone(s.order) {
			s.Remove(id)
		}
	})
}

// Get returns a copy of the participant record.
func (s *Store) Get(id domain.ParticipantID) (Participant, bool) {
	p, ok := s.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (s *Store) Has(id domain.ParticipantID) bool {
	_, ok := s.byID[id]
	return ok
}

// Local returns the local participant if it joined.
func (s *Store) Local() (Participant, bool) {
	for _, id := range s.order {
		if p := s.byID[id]; p.IsLocal {
			return *p, true
		}
	}
	return Participant{}, false
}

func (s *Store) Count() int { return len(s.order) }

// Snapshot returns copies of all participants in join order.
func (s *Store) Snapshot() []Participant {
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *Store) setFlag(p *Participant, field *bool, v *bool) {
	if v == nil || *field == *v {
		return
	}
	*field = *v
	s.mark(ChangeFlags, p.ID)
}

func (s *Store) demoteLocal(newLocal domain.ParticipantID) {
	for _, id := range s.order {
		p := s.byID[id]
		if id != newLocal && p.IsLocal {
			s.logger.Warn().
				Str("previous", string(id)).
				Str("participant", string(newLocal)).
				Msg("second local participant, demoting previous")
			p.IsLocal = false
			s.mark(ChangeMembership, id)
		}
	}
}

func (s *Store) release(h *TrackHandle) {
	if s.releaser != nil {
		s.releaser.Release(h)
		return
	}
	h.released = true
}

func (s *Store) mark(kind ChangeKind, id domain.ParticipantID) {
	s.pending.Kinds |= kind
	if !slices.Contains(s.pending.IDs, id) {
		s.pending.IDs = append(s.pending.IDs, id)
	}
}

func (s *Store) commit() {
	if s.batchDepth > 0 || s.pending.Kinds == 0 {
		return
	}
	ch := s.pending
	s.pending = Change{}
	for _, k := range slices.Sorted(maps.Keys(s.subs)) {
		if fn, ok := s.subs[k]; ok {
			fn(ch)
		}
	}
}
