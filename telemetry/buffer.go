package telemetry

import (
	"time"

	"github.com/juju/errors"
)

// ChannelBuffer is time windowed ordered store of samples for one channel.
// Invariant: samples are in non-decreasing timestamp order;
// after Trim(now, window) every stored sample has Timestamp >= now-window.
// Capacity is governed by time, not count. Not thread-safe.
type ChannelBuffer struct {
	channel int
	samples []Sample
	head    int // samples[:head] are evicted
}

func NewChannelBuffer(channel int) *ChannelBuffer {
	return &ChannelBuffer{
		channel: channel,
		samples: make([]Sample, 0, 64),
	}
}

func (b *ChannelBuffer) Channel() int { return b.channel }
func (b *ChannelBuffer) Len() int     { return len(b.samples) - b.head }

// Append is amortized O(1).
// Rejects sample of other channel or older than the last stored one.
func (b *ChannelBuffer) Append(s Sample) error {
	if s.Channel != b.channel {
		return errors.NotValidf("sample channel=%d for buffer channel=%d", s.Channel, b.channel)
	}
	if last, ok := b.Last(); ok && s.Timestamp < last.Timestamp {
		return errors.NotValidf("sample t=%s older than last=%s channel=%d", s.Timestamp, last.Timestamp, b.channel)
	}
	b.samples = append(b.samples, s)
	return nil
}

// Trim removes from front while front.Timestamp < now-window, returns removed count.
// O(1) when nothing to remove, amortized O(1) per removed sample.
func (b *ChannelBuffer) Trim(now, window time.Duration) int {
	cutoff := now - window
	start := b.head
	for b.head < len(b.samples) && b.samples[b.head].Timestamp < cutoff {
		b.head++
	}
	removed := b.head - start
	if removed != 0 {
		b.compact()
	}
	return removed
}

// Snapshot returns a copy, safe to keep and read after further Append/Trim.
func (b *ChannelBuffer) Snapshot() []Sample {
	out := make([]Sample, b.Len())
	copy(out, b.samples[b.head:])
	return out
}

func (b *ChannelBuffer) Last() (Sample, bool) {
	if b.Len() == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// compact moves live tail to the front once evicted part dominates,
// keeping memory proportional to window and Append amortized O(1).
func (b *ChannelBuffer) compact() {
	if b.head == len(b.samples) {
		b.samples = b.samples[:0]
		b.head = 0
		return
	}
	if b.head < len(b.samples)/2 {
		return
	}
	n := copy(b.samples, b.samples[b.head:])
	b.samples = b.samples[:n]
	b.head = 0
}
