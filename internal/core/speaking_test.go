package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/core"
	"github.com/dkeye/studycall/internal/domain"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// feed sends level every step ms over [from, to] and returns whether the flag ever flipped on.
func feed(d *core.SpeakingDetector, id domain.ParticipantID, level float64, from, to, step int) (everOn bool) {
	for ms := from; ms <= to; ms += step {
		if on, _ := d.Observe(id, level, at(ms)); on {
			everOn = true
		}
	}
	return everOn
}

func TestSpeakingShortBurstNeverFlips(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())

	assert.False(t, feed(d, "a", -30, 0, 250, 50))
	assert.False(t, feed(d, "a", -90, 300, 400, 50))
	// a second short burst starts a fresh run
	assert.False(t, feed(d, "a", -30, 450, 700, 50))
	assert.False(t, d.Speaking("a"))
}

func TestSpeakingSustainedLevelFlips(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())

	for ms := 0; ms < 300; ms += 50 {
		on, changed := d.Observe("a", -30, at(ms))
		require.False(t, on)
		require.False(t, changed)
	}
	on, changed := d.Observe("a", -30, at(300))
	assert.True(t, on)
	assert.True(t, changed)

	since, ok := d.SpeakingSince("a")
	require.True(t, ok)
	assert.Equal(t, at(300), since)
}

func TestSpeakingExitNeedsSustainedSilence(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())
	feed(d, "a", -30, 0, 400, 50)
	require.True(t, d.Speaking("a"))

	// between exit and enter keeps speaking
	feed(d, "a", -55, 450, 2000, 50)
	assert.True(t, d.Speaking("a"))

	// short dip below exit is ignored
	feed(d, "a", -80, 2050, 2200, 50)
	assert.True(t, d.Speaking("a"))
	feed(d, "a", -40, 2250, 2250, 50)

	on, changed := false, false
	for ms := 2300; ms <= 2600; ms += 50 {
		on, changed = d.Observe("a", -80, at(ms))
	}
	assert.False(t, on)
	assert.True(t, changed)
}

func TestSpeakingSweepAndReset(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())
	feed(d, "a", -30, 0, 400, 50)
	feed(d, "b", -30, 0, 400, 50)

	assert.Empty(t, d.Sweep(at(500)))
	feed(d, "b", -30, 450, 800, 50)
	assert.Equal(t, []domain.ParticipantID{"a"}, d.Sweep(at(800)))
	assert.False(t, d.Speaking("a"))
	assert.True(t, d.Speaking("b"))

	assert.True(t, d.Reset("b"))
	assert.False(t, d.Reset("b"))
	d.Forget("b")
	_, ok := d.SpeakingSince("b")
	assert.False(t, ok)
}

func TestSpeakingOnsetNeedsContinuousSamples(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())

	for _, ms := range []int{0, 20, 2000} {
		on, changed := d.Observe("a", -30, at(ms))
		assert.False(t, on)
		assert.False(t, changed)
	}

	// spikes far apart never add up to a run
	for ms := 3000; ms <= 5000; ms += 400 {
		on, _ := d.Observe("b", -30, at(ms))
		assert.False(t, on)
	}
	assert.False(t, d.Speaking("b"))

	// a continuous run after the gap still flips
	assert.True(t, feed(d, "a", -30, 2050, 2300, 50))
}

func TestSpeakingSweepDropsStaleOnset(t *testing.T) {
	d := core.NewSpeakingDetector(core.DefaultSpeakingConfig())

	assert.False(t, feed(d, "a", -30, 0, 250, 50))
	assert.Empty(t, d.Sweep(at(1000)))

	on, changed := d.Observe("a", -30, at(1000))
	assert.False(t, on)
	assert.False(t, changed)
	assert.False(t, d.Speaking("a"))
}

func TestSpeakerSelectorIsSticky(t *testing.T) {
	sel := core.NewSpeakerSelector(time.Second)
	cands := func(speaking map[domain.ParticipantID]int) []core.SpeakerCandidate {
		var out []core.SpeakerCandidate
		for _, id := range []domain.ParticipantID{"local", "a", "b"} {
			c := core.SpeakerCandidate{ID: id, IsLocal: id == "local"}
			if ms, ok := speaking[id]; ok {
				c.Speaking, c.SpeakingSince = true, at(ms)
			}
			out = append(out, c)
		}
		return out
	}

	// local never becomes main speaker
	id, changed := sel.Update(cands(map[domain.ParticipantID]int{"local": 0}), at(5000))
	assert.Empty(t, id)
	assert.False(t, changed)

	// a has not held the floor long enough yet
	id, _ = sel.Update(cands(map[domain.ParticipantID]int{"a": 0}), at(900))
	assert.Empty(t, id)
	id, changed = sel.Update(cands(map[domain.ParticipantID]int{"a": 0}), at(1000))
	assert.Equal(t, domain.ParticipantID("a"), id)
	assert.True(t, changed)

	// spikes from b do not steal the slot
	for _, ms := range []int{1200, 1600, 1900} {
		id, changed = sel.Update(cands(map[domain.ParticipantID]int{"a": 0, "b": ms}), at(ms+300))
		assert.Equal(t, domain.ParticipantID("a"), id)
		assert.False(t, changed)
	}

	// b speaking continuously takes over only after a full window since a was assigned
	id, _ = sel.Update(cands(map[domain.ParticipantID]int{"b": 1100}), at(1900))
	assert.Equal(t, domain.ParticipantID("a"), id)
	id, changed = sel.Update(cands(map[domain.ParticipantID]int{"b": 1100}), at(2100))
	assert.Equal(t, domain.ParticipantID("b"), id)
	assert.True(t, changed)

	// holder leaving clears the pointer
	id, changed = sel.Update([]core.SpeakerCandidate{{ID: "a"}}, at(2200))
	assert.Empty(t, id)
	assert.True(t, changed)
}
