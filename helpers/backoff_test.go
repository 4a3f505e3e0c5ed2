package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: 500 * time.Millisecond, Max: 3 * time.Second, K: 2}
	now := 10 * time.Second
	assert.True(t, b.Ready(now))
	assert.Equal(t, time.Duration(0), b.Delay())

	assert.Equal(t, 500*time.Millisecond, b.Failure(now))
	assert.False(t, b.Ready(now+499*time.Millisecond))
	assert.True(t, b.Ready(now+500*time.Millisecond))

	assert.Equal(t, 1*time.Second, b.Failure(now))
	assert.Equal(t, 2*time.Second, b.Failure(now))
	assert.Equal(t, 3*time.Second, b.Failure(now), "limited by Max")
	assert.Equal(t, 3*time.Second, b.Failure(now))

	assert.Equal(t, time.Duration(0), b.Update(now, true))
	assert.True(t, b.Ready(now))
	assert.Equal(t, 500*time.Millisecond, b.Update(now, false))
}

func TestBackoffZeroMin(t *testing.T) {
	t.Parallel()
	b := Backoff{K: 2}
	now := time.Second
	assert.Equal(t, time.Duration(0), b.Failure(now))
	assert.True(t, b.Ready(now), "zero Min disables backoff")
}
