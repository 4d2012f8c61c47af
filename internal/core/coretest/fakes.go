// Package coretest provides in-memory media tracks and render targets for tests.
package coretest

import (
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/studycall/internal/core"
)

// Target records which tracks are currently delivering into it.
type Target struct {
	id core.TargetID

	mu      sync.Mutex
	holders map[string]int
}

func (t *Target) ID() core.TargetID { return t.id }

// Holders lists the track ids attached to the target.
func (t *Target) Holders() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.holders))
}

func (t *Target) add(track string) {
	t.mu.Lock()
	t.holders[track]++
	t.mu.Unlock()
}

func (t *Target) remove(track string) {
	t.mu.Lock()
	if t.holders[track]--; t.holders[track] <= 0 {
		delete(t.holders, track)
	}
	t.mu.Unlock()
}

// Surface creates targets on demand.
type Surface struct {
	mu      sync.Mutex
	targets map[core.TargetID]*Target
	// Missing makes Target return nil for these ids.
	Missing map[core.TargetID]bool
}

func NewSurface() *Surface {
	return &Surface{targets: make(map[core.TargetID]*Target), Missing: make(map[core.TargetID]bool)}
}

func (s *Surface) Target(id core.TargetID) core.RenderTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing[id] {
		return nil
	}
	return s.get(id)
}

// Get returns the concrete target, creating it if needed.
func (s *Surface) Get(id core.TargetID) *Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Surface) get(id core.TargetID) *Target {
	t, ok := s.targets[id]
	if !ok {
		t = &Target{id: id, holders: make(map[string]int)}
		s.targets[id] = t
	}
	return t
}

// Targets returns every target created so far.
func (s *Surface) Targets() []*Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Target, 0, len(s.targets))
	for _, id := range slices.Sorted(maps.Keys(s.targets)) {
		out = append(out, s.targets[id])
	}
	return out
}

// Track is a MediaTrack that counts attach/detach calls.
type Track struct {
	id string

	mu        sync.Mutex
	attachErr error
	attached  map[core.TargetID]core.RenderTarget
	attaches  int
	detaches  int
}

func NewTrack(id string) *Track {
	return &Track{id: id, attached: make(map[core.TargetID]core.RenderTarget)}
}

func (t *Track) ID() string { return t.id }

// FailAttach makes every following Attach return err.
func (t *Track) FailAttach(err error) {
	t.mu.Lock()
	t.attachErr = err
	t.mu.Unlock()
}

func (t *Track) Attach(target core.RenderTarget) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attaches++
	if t.attachErr != nil {
		return t.attachErr
	}
	t.attached[target.ID()] = target
	if ft, ok := target.(*Target); ok {
		ft.add(t.id)
	}
	return nil
}

func (t *Track) Detach(target core.RenderTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.attached[target.ID()]; !ok {
		return
	}
	t.detaches++
	delete(t.attached, target.ID())
	if ft, ok := target.(*Target); ok {
		ft.remove(t.id)
	}
}

// Attached lists the targets the track is delivering into.
func (t *Track) Attached() []core.TargetID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.attached))
}

// Attaches counts Attach calls, failed ones included.
func (t *Track) Attaches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attaches
}

func (t *Track) Detaches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detaches
}
