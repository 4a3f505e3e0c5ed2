package helpers

import (
	"time"
)

// Limited exponential backoff for retry delays.
// Clock readings are supplied by caller, so it works the same
// with monotonic session time and simulated clock in tests.
// First failure delays by Min, each next failure multiplies delay by K.
// Not thread-safe, owner goroutine only.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms

	next      time.Duration
	notBefore time.Duration
}

// Use scenario:
//
//	for tick := range ticks {
//		if !backoff.Ready(now) {
//			continue
//		}
//		err := op()
//		backoff.Update(now, err == nil)
//	}
func (b *Backoff) Ready(now time.Duration) bool { return now >= b.notBefore }

// Failure arms backoff and returns delay until next attempt.
func (b *Backoff) Failure(now time.Duration) time.Duration {
	if b.next == 0 {
		b.next = b.Min
	} else {
		b.next = time.Duration(float32(b.next) * b.K)
	}
	b.next = b.limit(b.next)
	b.notBefore = now + b.next
	return b.next
}

func (b *Backoff) Reset() {
	b.next = 0
	b.notBefore = 0
}

func (b *Backoff) Update(now time.Duration, success bool) time.Duration {
	if success {
		b.Reset()
		return 0
	}
	return b.Failure(now)
}

// Delay returns current delay, 0 after Reset.
func (b *Backoff) Delay() time.Duration { return b.next }

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
