package telemetry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBufferAppendTrim(t *testing.T) {
	t.Parallel()
	b := NewChannelBuffer(2)
	for i := 0; i <= 20; i++ {
		require.NoError(t, b.Append(Sample{Channel: 2, Timestamp: time.Duration(i) * time.Second, Voltage: float64(i) / 10}))
	}
	assert.Equal(t, 21, b.Len())

	removed := b.Trim(20*time.Second, 10*time.Second)
	assert.Equal(t, 10, removed)
	ss := b.Snapshot()
	require.Len(t, ss, 11)
	assert.Equal(t, 10*time.Second, ss[0].Timestamp, "sample exactly at cutoff stays")
	assert.Equal(t, 20*time.Second, ss[10].Timestamp)

	assert.Equal(t, 0, b.Trim(20*time.Second, 10*time.Second), "second trim with same now is no-op")
	assert.Equal(t, 11, b.Len())

	assert.Equal(t, 11, b.Trim(time.Minute, 10*time.Second))
	assert.Equal(t, 0, b.Len())
	_, ok := b.Last()
	assert.False(t, ok)
}

func TestChannelBufferReject(t *testing.T) {
	t.Parallel()
	b := NewChannelBuffer(0)
	require.NoError(t, b.Append(Sample{Channel: 0, Timestamp: 5 * time.Second}))
	assert.Error(t, b.Append(Sample{Channel: 1, Timestamp: 6 * time.Second}))
	assert.Error(t, b.Append(Sample{Channel: 0, Timestamp: 4 * time.Second}))
	require.NoError(t, b.Append(Sample{Channel: 0, Timestamp: 5 * time.Second}), "equal timestamp allowed")
	assert.Equal(t, 2, b.Len())
}

func TestChannelBufferSnapshotIsCopy(t *testing.T) {
	t.Parallel()
	b := NewChannelBuffer(0)
	require.NoError(t, b.Append(Sample{Channel: 0, Timestamp: time.Second, Voltage: 1.5}))
	ss := b.Snapshot()
	ss[0].Voltage = 99
	for i := 2; i < 100; i++ {
		require.NoError(t, b.Append(Sample{Channel: 0, Timestamp: time.Duration(i) * time.Second}))
	}
	b.Trim(100*time.Second, 10*time.Second)
	assert.Equal(t, 99.0, ss[0].Voltage)
	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 99*time.Second, last.Timestamp)
}

// Property: after trim every remaining sample is within window,
// and every evicted sample was outside window at eviction time.
func TestChannelBufferTrimProperty(t *testing.T) {
	t.Parallel()
	rand := rand.New(rand.NewSource(time.Now().UnixNano()))
	for round := 0; round < 200; round++ {
		b := NewChannelBuffer(0)
		window := time.Duration(1+rand.Intn(5000)) * time.Millisecond
		var ts time.Duration
		var all []Sample
		trimmedUpTo := 0
		for i := 0; i < 300; i++ {
			ts += time.Duration(rand.Intn(50)) * time.Millisecond
			s := Sample{Channel: 0, Timestamp: ts, Voltage: rand.Float64() * 3.3}
			require.NoError(t, b.Append(s))
			all = append(all, s)
			if rand.Intn(4) != 0 {
				continue
			}
			now := ts + time.Duration(rand.Intn(100))*time.Millisecond
			removed := b.Trim(now, window)
			for _, ev := range all[trimmedUpTo : trimmedUpTo+removed] {
				assert.True(t, now-ev.Timestamp > window, "premature eviction now=%s sample=%s window=%s", now, ev, window)
			}
			trimmedUpTo += removed
			kept := b.Snapshot()
			assert.Equal(t, all[trimmedUpTo:], kept)
			for _, k := range kept {
				assert.True(t, now-k.Timestamp <= window, "stale sample now=%s sample=%s window=%s", now, k, window)
			}
			assert.Equal(t, 0, b.Trim(now, window))
		}
	}
}
