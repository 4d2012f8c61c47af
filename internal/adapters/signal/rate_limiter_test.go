package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	at := base
	rl.now = func() time.Time { return at }

	assert.True(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s1"))
	assert.False(t, rl.Allow("s1"))
	assert.True(t, rl.Allow("s2"), "limits are per viewer")

	at = base.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("s1"))

	assert.True(t, rl.Allow("s1"))
	assert.False(t, rl.Allow("s1"))

	rl.Forget("s1")
	assert.True(t, rl.Allow("s1"))
}
