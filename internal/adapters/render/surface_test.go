package render

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/studycall/internal/core"
)

func TestSurfaceCreatesKnownTargets(t *testing.T) {
	s, err := NewSurface(webrtc.MimeTypeVP8, core.DefaultLayoutConfig().Targets())
	require.NoError(t, err)

	targets := s.Targets()
	require.Len(t, targets, 20)
	assert.Equal(t, core.TargetID("column-0"), targets[0].ID())

	main, ok := s.Target("main-0").(*Target)
	require.True(t, ok)
	assert.Equal(t, "main-0", main.Track().ID())
	assert.Equal(t, streamID, main.Track().StreamID())
	assert.Same(t, main, s.Target("main-0"))
}

func TestSurfaceLazyTargetNotifies(t *testing.T) {
	s, err := NewSurface(webrtc.MimeTypeVP8, nil)
	require.NoError(t, err)

	var created []core.TargetID
	s.OnTarget(func(t *Target) { created = append(created, t.ID()) })

	s.Target("extra-0")
	s.Target("extra-0")
	assert.Equal(t, []core.TargetID{"extra-0"}, created)
}

func TestTargetCountsPackets(t *testing.T) {
	s, err := NewSurface(webrtc.MimeTypeVP8, []core.TargetID{"tile-0"})
	require.NoError(t, err)
	tile := s.Target("tile-0").(*Target)

	require.NoError(t, tile.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 9}}))
	assert.Equal(t, uint64(1), tile.Packets())

	assert.ErrorIs(t, (&Target{id: "x"}).WriteRTP(&rtp.Packet{}), ErrNoTrack)
}
