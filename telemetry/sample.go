package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Sample is a single channel reading. Timestamp is session time,
// monotonic since Clock start. Immutable once created.
type Sample struct {
	Channel   int
	Timestamp time.Duration
	Voltage   float64
}

func (s Sample) Seconds() float64 { return s.Timestamp.Seconds() }

func (s Sample) String() string {
	return fmt.Sprintf("(ch=%d t=%.3f v=%.4f)", s.Channel, s.Seconds(), s.Voltage)
}

// Clock returns monotonic session time.
// Transports timestamp samples on receipt with it, coordinator trims with it.
type Clock interface {
	Now() time.Duration
}

type MonoClock struct{ start time.Time }

var _ Clock = &MonoClock{}

func NewMonoClock() *MonoClock          { return &MonoClock{start: time.Now()} }
func (c *MonoClock) Now() time.Duration { return time.Since(c.start) }
func (c *MonoClock) Start() time.Time   { return c.start }

// ManualClock is simulated clock for tests. Thread-safe.
type ManualClock struct{ v int64 }

var _ Clock = &ManualClock{}

func NewManualClock(start time.Duration) *ManualClock { return &ManualClock{v: int64(start)} }
func (c *ManualClock) Now() time.Duration             { return time.Duration(atomic.LoadInt64(&c.v)) }
func (c *ManualClock) Set(d time.Duration)            { atomic.StoreInt64(&c.v, int64(d)) }
func (c *ManualClock) Advance(d time.Duration) time.Duration {
	return time.Duration(atomic.AddInt64(&c.v, int64(d)))
}
