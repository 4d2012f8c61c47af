package core_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/core/coretest"
	"github.com/dkeye/studycall/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func newStore(t *testing.T) (*core.Store, *core.Binder, *coretest.Surface, *[]core.Change) {
	t.Helper()
	surface := coretest.NewSurface()
	b := core.NewBinder(surface, true)
	s := core.NewStore(b)
	var changes []core.Change
	s.Subscribe(func(c core.Change) { changes = append(changes, c) })
	return s, b, surface, &changes
}

func TestStoreUpsertInsertsAndMerges(t *testing.T) {
	s, _, _, changes := newStore(t)

	assert.False(t, s.Upsert(core.ParticipantUpdate{DisplayName: ptr("ghost")}))
	assert.Empty(t, *changes)

	require.True(t, s.Upsert(core.ParticipantUpdate{ID: "a", DisplayName: ptr("Ada"), IsLocal: ptr(true)}))
	require.True(t, s.Upsert(core.ParticipantUpdate{ID: "a", IsMuted: ptr(true)}))

	p, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.True(t, p.IsLocal)
	assert.True(t, p.IsMuted)
	assert.True(t, p.IsCameraOff, "no camera until a track is published")
	require.Len(t, *changes, 2)
	assert.True(t, (*changes)[0].Kinds.Has(core.ChangeMembership))
	assert.Equal(t, core.ChangeFlags, (*changes)[1].Kinds)

	// no-op updates do not notify
	s.Upsert(core.ParticipantUpdate{ID: "a", IsMuted: ptr(true)})
	assert.Len(t, *changes, 2)
}

func TestStoreBatchNotifiesOnce(t *testing.T) {
	s, _, _, changes := newStore(t)
	s.Upsert(core.ParticipantUpdate{ID: "a"})
	h, _ := newHandle("a", domain.TrackCamera)
	s.Batch(func() {
		s.SetTrack("a", domain.TrackCamera, h)
		s.SetCameraOff("a", false)
	})
	*changes = nil

	s.Batch(func() {
		s.SetTrack("a", domain.TrackCamera, nil)
		s.SetCameraOff("a", true)
	})

	require.Len(t, *changes, 1)
	assert.True(t, (*changes)[0].Kinds.Has(core.ChangeTracks))
	assert.True(t, (*changes)[0].Kinds.Has(core.ChangeFlags))
	assert.Equal(t, []domain.ParticipantID{"a"}, (*changes)[0].IDs)
	assert.True(t, h.Released())
}

func TestStoreRemoveReleasesHandles(t *testing.T) {
	s, b, surface, _ := newStore(t)
	s.Upsert(core.ParticipantUpdate{ID: "a"})
	cam, camTrack := newHandle("a", domain.TrackCamera)
	mic, _ := newHandle("a", domain.TrackMicrophone)
	s.SetTrack("a", domain.TrackCamera, cam)
	s.SetTrack("a", domain.TrackMicrophone, mic)
	require.True(t, b.Bind(cam, surface.Target("main-0")))

	require.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))

	assert.Zero(t, s.Count())
	assert.True(t, cam.Released())
	assert.True(t, mic.Released())
	assert.Empty(t, camTrack.Attached())
	assert.Empty(t, b.Bindings())
}

func TestStoreSetTrackReleasesReplacedHandle(t *testing.T) {
	s, b, surface, _ := newStore(t)
	s.Upsert(core.ParticipantUpdate{ID: "a"})
	old, oldTrack := newHandle("a", domain.TrackCamera)
	s.SetTrack("a", domain.TrackCamera, old)
	require.True(t, b.Bind(old, surface.Target("main-0")))

	fresh, _ := newHandle("a", domain.TrackCamera)
	require.True(t, s.SetTrack("a", domain.TrackCamera, fresh))

	assert.True(t, old.Released())
	assert.Empty(t, oldTrack.Attached())
	p, _ := s.Get("a")
	assert.Same(t, fresh, p.CameraTrack)

	assert.False(t, s.SetTrack("nobody", domain.TrackCamera, fresh))
}

func TestStoreSingleLocalParticipant(t *testing.T) {
	s, _, _, _ := newStore(t)
	s.Upsert(core.ParticipantUpdate{ID: "a", IsLocal: ptr(true)})
	s.Upsert(core.ParticipantUpdate{ID: "b", IsLocal: ptr(true)})

	local, ok := s.Local()
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("b"), local.ID)
	a, _ := s.Get("a")
	assert.False(t, a.IsLocal)
}

func TestStoreSnapshotKeepsJoinOrder(t *testing.T) {
	s, _, _, _ := newStore(t)
	for _, id := range []domain.ParticipantID{"c", "a", "b"} {
		s.Upsert(core.ParticipantUpdate{ID: id})
	}
	s.Upsert(core.ParticipantUpdate{ID: "a", DisplayName: ptr("Ada")})
	s.Remove("c")
	s.Upsert(core.ParticipantUpdate{ID: "c"})

	var ids []domain.ParticipantID
	for _, p := range s.Snapshot() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []domain.ParticipantID{"a", "b", "c"}, ids)
}

func TestStoreUnsubscribe(t *testing.T) {
	s := core.NewStore(nil)
	n := 0
	unsub := s.Subscribe(func(core.Change) { n++ })
	s.Upsert(core.ParticipantUpdate{ID: "a"})
	unsub()
	s.Upsert(core.ParticipantUpdate{ID: "b"})
	assert.Equal(t, 1, n)
}

func TestStoreJoinLeaveSequencesLeaveNothingBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		s, b, surface, _ := newStore(t)
		present := map[domain.ParticipantID]bool{}
		var handles []*core.TrackHandle

		for step := 0; step < 60; step++ {
			id := domain.ParticipantID(fmt.Sprintf("p%d", rng.Intn(8)))
			if present[id] && rng.Intn(3) == 0 {
				s.Remove(id)
				delete(present, id)
				continue
			}
			s.Upsert(core.ParticipantUpdate{ID: id})
			present[id] = true
			kind := domain.TrackKinds[rng.Intn(len(domain.TrackKinds))]
			h := core.NewTrackHandle(id, kind, coretest.NewTrack(fmt.Sprintf("%s-%d", id, step)))
			s.SetTrack(id, kind, h)
			handles = append(handles, h)
			b.Bind(h, surface.Target(core.TargetID(fmt.Sprintf("t-%d", rng.Intn(6)))))
		}

		require.Equal(t, len(present), s.Count(), "round %d", round)
		for _, h := range handles {
			if !present[h.Owner()] {
				_, attached := h.AttachedTarget()
				assert.False(t, attached, "handle %s of removed owner still bound", h.TrackID())
			}
		}
		for _, target := range surface.Targets() {
			assert.LessOrEqual(t, len(target.Holders()), 1, "target %s", target.ID())
		}
	}
}
