package coordinator

import (
	"time"

	"github.com/temoto/adcview/telemetry"
)

// View is a consistent copy of coordinator buffers at one point between ticks.
type View struct {
	State     State
	Mode      telemetry.Mode
	PushState telemetry.ConnectionState
	Now       time.Duration
	Failures  int
	// Index is channel. Channels without samples yet have nil slice.
	Channels [][]telemetry.Sample
}

func (v View) Channel(ch int) []telemetry.Sample {
	if ch < 0 || ch >= len(v.Channels) {
		return nil
	}
	return v.Channels[ch]
}

// Last returns most recent sample of channel.
func (v View) Last(ch int) (telemetry.Sample, bool) {
	ss := v.Channel(ch)
	if len(ss) == 0 {
		return telemetry.Sample{}, false
	}
	return ss[len(ss)-1], true
}

func (c *Coordinator) view() View {
	v := View{
		State:     c.State(),
		Mode:      c.Mode(),
		PushState: c.opt.Push.State(),
		Now:       c.LastTick(),
		Failures:  c.opt.Health.FailureCount(),
		Channels:  make([][]telemetry.Sample, len(c.buffers)),
	}
	for i, b := range c.buffers {
		if b != nil {
			v.Channels[i] = b.Snapshot()
		}
	}
	return v
}
