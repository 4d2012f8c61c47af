package core

import (
	"maps"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReconcileResult counts the attach/detach calls a reconcile issued.
type ReconcileResult struct {
	Attached int
	Detached int
	Failed   int
}

func (r ReconcileResult) Changed() bool {
	return r.Attached > 0 || r.Detached > 0
}

// Binder is the track lifecycle manager. It is the only component allowed
// to call MediaTrack.Attach/Detach and keeps every target bound to at most
// one handle and every handle bound to at most one target.
// Not safe for concurrent use; the engine loop owns it.
type Binder struct {
	surface Surface
	strict  bool
	logger  zerolog.Logger

	byTarget map[TargetID]*TrackHandle
	// failed remembers targets whose attach failed for a given handle so the
	// placeholder stays up without retrying on every reconcile.
	failed map[TargetID]*TrackHandle
}

// NewBinder creates a binder over surface. In strict mode invariant
// violations are logged at error level; they are corrected either way.
func NewBinder(surface Surface, strict bool) *Binder {
	return &Binder{
		surface:  surface,
		strict:   strict,
		logger:   log.With().Str("module", "core.binder").Logger(),
		byTarget: make(map[TargetID]*TrackHandle),
		failed:   make(map[TargetID]*TrackHandle),
	}
}

// Bind attaches h to target, detaching it from any previous target first.
// Returns false when the attach failed and the target shows a placeholder.
func (b *Binder) Bind(h *TrackHandle, target RenderTarget) bool {
	if h == nil || target == nil {
		return false
	}
	id := target.ID()
	if h.released {
		b.violation().Str("track", h.trackID).Str("target", string(id)).Msg("bind of released handle ignored")
		return false
	}
	if h.attached != nil {
		if h.attached.ID() == id {
			return true
		}
		b.detach(h)
	}
	if other, ok := b.byTarget[id]; ok && other != h {
		b.violation().
			Str("target", string(id)).
			Str("holder", other.trackID).
			Str("track", h.trackID).
			Msg("target already bound, force unbinding holder")
		b.detach(other)
	}
	if h.media == nil {
		b.failed[id] = h
		return false
	}
	if err := h.media.Attach(target); err != nil {
		b.logger.Warn().
			Err(err).
			Str("track", h.trackID).
			Str("owner", string(h.owner)).
			Str("target", string(id)).
			Msg("attach failed, showing placeholder")
		b.failed[id] = h
		return false
	}
	h.attached = target
	b.byTarget[id] = h
	delete(b.failed, id)
	b.logger.Debug().Str("track", h.trackID).Str("target", string(id)).Msg("bound")
	return true
}

// Unbind detaches h if attached. Unbinding an unbound handle is a no-op.
func (b *Binder) Unbind(h *TrackHandle) {
	if h == nil || h.attached == nil {
		return
	}
	b.detach(h)
}

// Release unbinds h and retires it; a released handle is never bound again.
func (b *Binder) Release(h *TrackHandle) {
	if h == nil || h.released {
		return
	}
	b.Unbind(h)
	for id, f := range b.failed {
		if f == h {
			delete(b.failed, id)
		}
	}
	h.released = true
	b.logger.Debug().Str("track", h.trackID).Str("owner", string(h.owner)).Msg("released")
}

// Reconcile applies the delta between the current bindings and desired.
// Targets are processed in sorted order so identical inputs issue identical
// call sequences.
func (b *Binder) Reconcile(desired map[TargetID]*TrackHandle) ReconcileResult {
	var res ReconcileResult

	want := make(map[TargetID]*TrackHandle, len(desired))
	seen := make(map[*TrackHandle]TargetID, len(desired))
	for _, id := range slices.Sorted(maps.Keys(desired)) {
		h := desired[id]
		if h == nil || h.released {
			continue
		}
		if first, dup := seen[h]; dup {
			b.violation().
				Str("track", h.trackID).
				Str("kept", string(first)).
				Str("dropped", string(id)).
				Msg("handle desired on two targets")
			continue
		}
		seen[h] = id
		want[id] = h
	}

	for _, id := range slices.Sorted(maps.Keys(b.byTarget)) {
		h := b.byTarget[id]
		if want[id] != h {
			b.detach(h)
			res.Detached++
		}
	}
	for id, h := range b.failed {
		if want[id] != h {
			delete(b.failed, id)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(want)) {
		h := want[id]
		if b.byTarget[id] == h {
			continue
		}
		if b.failed[id] == h {
			res.Failed++
			continue
		}
		target := b.surface.Target(id)
		if target == nil {
			b.logger.Warn().Str("target", string(id)).Msg("surface has no such target")
			b.failed[id] = h
			res.Failed++
			continue
		}
		if b.Bind(h, target) {
			res.Attached++
		} else {
			res.Failed++
		}
	}
	return res
}

// Bound returns the handle currently displayed by target.
func (b *Binder) Bound(id TargetID) (*TrackHandle, bool) {
	h, ok := b.byTarget[id]
	return h, ok
}

// Failed reports whether target fell back to a placeholder after an attach error.
func (b *Binder) Failed(id TargetID) bool {
	_, ok := b.failed[id]
	return ok
}

// Bindings returns a copy of the target to handle table.
func (b *Binder) Bindings() map[TargetID]*TrackHandle {
	out := make(map[TargetID]*TrackHandle, len(b.byTarget))
	maps.Copy(out, b.byTarget)
	return out
}

func (b *Binder) detach(h *TrackHandle) {
	target := h.attached
	if target == nil {
		return
	}
	id := target.ID()
	if h.media != nil {
		h.media.Detach(target)
	}
	if b.byTarget[id] == h {
		delete(b.byTarget, id)
	}
	h.attached = nil
	b.logger.Debug().Str("track", h.trackID).Str("target", string(id)).Msg("unbound")
}

func (b *Binder) violation() *zerolog.Event {
	if b.strict {
		return b.logger.Error().Bool("invariant", true)
	}
	return b.logger.Debug().Bool("invariant", true)
}
