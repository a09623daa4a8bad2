package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsWithinRate(t *testing.T) {
	l := New(100, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("c1"), "burst message %d", i)
	}
}

func TestLimiterBlocksBeyondBurst(t *testing.T) {
	l := New(1, 2)

	assert.True(t, l.Allow("c1"))
	assert.True(t, l.Allow("c1"))
	assert.False(t, l.Allow("c1"))

	// Another client has its own bucket.
	assert.True(t, l.Allow("c2"))
}

func TestLimiterRefills(t *testing.T) {
	l := New(50, 1)

	assert.True(t, l.Allow("c1"))
	assert.False(t, l.Allow("c1"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow("c1"))
}

func TestNilLimiterAllowsAll(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow("anyone"))
	l.Forget("anyone")

	assert.Nil(t, New(0, 0))
	assert.Nil(t, New(-5, 0))
}

func TestForget(t *testing.T) {
	l := New(1, 1)
	assert.True(t, l.Allow("c1"))
	assert.False(t, l.Allow("c1"))

	l.Forget("c1")
	assert.True(t, l.Allow("c1"), "a fresh bucket after forget")
}
