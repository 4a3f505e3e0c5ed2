package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/temoto/adcview/helpers"
)

const (
	DefaultBackoffMin = 500 * time.Millisecond
	DefaultBackoffMax = 5 * time.Second
)

// HealthMonitor tracks consecutive pull failures.
// Used for observability and poll back-off only, never switches transport mode.
type HealthMonitor struct {
	consecutive int64
	total       int64
	lastSuccess int64 // session time, 0 = never
	lastFailure int64

	backoff helpers.Backoff
}

func NewHealthMonitor(backoffMin, backoffMax time.Duration) *HealthMonitor {
	return &HealthMonitor{
		backoff: helpers.Backoff{Min: backoffMin, Max: backoffMax, K: 2},
	}
}

// RecordFailure returns consecutive failure count and delay before next attempt.
func (h *HealthMonitor) RecordFailure(now time.Duration) (int, time.Duration) {
	n := atomic.AddInt64(&h.consecutive, 1)
	atomic.AddInt64(&h.total, 1)
	atomic.StoreInt64(&h.lastFailure, int64(now))
	return int(n), h.backoff.Failure(now)
}

// RecordSuccess resets counter and returns consecutive failures before this success,
// so caller may report restored connection.
func (h *HealthMonitor) RecordSuccess(now time.Duration) int {
	before := atomic.SwapInt64(&h.consecutive, 0)
	atomic.StoreInt64(&h.lastSuccess, int64(now))
	h.backoff.Reset()
	return int(before)
}

func (h *HealthMonitor) FailureCount() int  { return int(atomic.LoadInt64(&h.consecutive)) }
func (h *HealthMonitor) TotalFailures() int { return int(atomic.LoadInt64(&h.total)) }

// LastSuccess returns session time of last success, false if never succeeded.
func (h *HealthMonitor) LastSuccess() (time.Duration, bool) {
	v := atomic.LoadInt64(&h.lastSuccess)
	return time.Duration(v), v != 0
}

// Ready reports whether back-off allows next attempt.
func (h *HealthMonitor) Ready(now time.Duration) bool { return h.backoff.Ready(now) }

// ShouldWarn tells when consecutive failure count deserves loud report:
// third failure and then every 15th.
func ShouldWarn(consecutive int) bool {
	return consecutive == 3 || (consecutive > 0 && consecutive%15 == 0)
}
