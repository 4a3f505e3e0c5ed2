package state

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/adcview/coordinator"
)

// Report formats periodic text summary of the session.
// Channel visibility affects only this presentation.
type Report struct {
	hidden []uint32
}

func NewReport(channels int) *Report {
	return &Report{hidden: make([]uint32, channels)}
}

func (r *Report) Show(ch int) error { return r.set(ch, 0) }
func (r *Report) Hide(ch int) error { return r.set(ch, 1) }

func (r *Report) Visible(ch int) bool {
	if ch < 0 || ch >= len(r.hidden) {
		return false
	}
	return atomic.LoadUint32(&r.hidden[ch]) == 0
}

func (r *Report) set(ch int, v uint32) error {
	if ch < 0 || ch >= len(r.hidden) {
		return errors.NotValidf("channel=%d (0..%d)", ch, len(r.hidden)-1)
	}
	atomic.StoreUint32(&r.hidden[ch], v)
	return nil
}

func (r *Report) Format(v coordinator.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "t=%.1fs state=%s mode=%s push=%s pull_failures=%d",
		v.Now.Seconds(), v.State.String(), v.Mode.String(), v.PushState.String(), v.Failures)
	for ch := range r.hidden {
		if !r.Visible(ch) {
			continue
		}
		ss := v.Channel(ch)
		if len(ss) == 0 {
			fmt.Fprintf(&b, "\nADC%d no data", ch)
			continue
		}
		last := ss[len(ss)-1]
		fmt.Fprintf(&b, "\nADC%d %.3fV n=%d age=%.1fs", ch, last.Voltage, len(ss), (v.Now - last.Timestamp).Seconds())
	}
	return b.String()
}
