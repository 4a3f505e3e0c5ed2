// Package atomic_clock stores a monotonic timestamp in atomic int64.
// Zero value means "never set". Used from multiple goroutines without locks,
// e.g. receive loop stamps every frame while coordinator reads age.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

var epoch = time.Now()

type Clock struct{ v int64 }

// +1 keeps a stamp taken right at epoch distinguishable from zero.
func source() int64 { return int64(time.Since(epoch)) + 1 }

func (c *Clock) IsZero() bool { return atomic.LoadInt64(&c.v) == 0 }
func (c *Clock) SetNow()      { atomic.StoreInt64(&c.v, source()) }
func (c *Clock) Reset()       { atomic.StoreInt64(&c.v, 0) }

// Since returns zero for zero clock.
func Since(c *Clock) time.Duration {
	b := atomic.LoadInt64(&c.v)
	if b == 0 {
		return 0
	}
	return time.Duration(source() - b)
}
