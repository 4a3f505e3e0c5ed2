// Package coordinator owns the telemetry session: it chooses push or pull transport,
// moves samples from transports into per channel sliding window buffers
// and serves snapshots of those buffers to other goroutines.
//
// All buffer access happens in the goroutine calling Tick/Run.
package coordinator

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
	"github.com/temoto/alive/v2"
)

const (
	DefaultConnectTimeout = 8 * time.Second
	DefaultTick           = 100 * time.Millisecond
	DefaultWindow         = 10 * time.Second
)

var (
	ErrSessionEnded = errors.New("push session ended")
	ErrStopped      = errors.New("coordinator stopped")
)

// Pusher is the streaming transport, implemented by push.Transport.
// It reports everything through the queue given at construction.
type Pusher interface {
	Start(ctx context.Context) error
	Stop()
	State() telemetry.ConnectionState
}

// Puller is the request/response transport, implemented by pull.Transport.
type Puller interface {
	FetchLatest(ctx context.Context) (map[int]float64, error)
}

// Sink observes every sample accepted into a buffer.
// Called from coordinator loop, must not block.
type Sink interface {
	Ingest(s telemetry.Sample, mode telemetry.Mode)
}

type Options struct {
	Log      *log2.Log
	Clock    telemetry.Clock
	Channels int
	Window   time.Duration
	Tick     time.Duration
	// Push must open within this time since first tick or coordinator falls back to pull.
	ConnectTimeout time.Duration

	Push   Pusher
	Queue  *telemetry.Queue // push events
	Pull   Puller
	Health *telemetry.HealthMonitor

	Metrics *Metrics
	Sinks   []Sink
}

type Coordinator struct {
	alive *alive.Alive
	opt   Options

	state       uint32
	mode        uint32
	begun       bool
	start       time.Duration
	lastTick    int64
	buffers     []*telemetry.ChannelBuffer // index=channel, nil until first sample
	events      []telemetry.Event
	snapshotReq chan chan View
}

func New(opt Options) (*Coordinator, error) {
	if opt.Push == nil || opt.Queue == nil || opt.Pull == nil {
		return nil, errors.NotValidf("code error coordinator requires push, queue and pull")
	}
	if opt.Channels <= 0 {
		return nil, errors.NotValidf("coordinator channels=%d", opt.Channels)
	}
	if opt.Clock == nil {
		opt.Clock = telemetry.NewMonoClock()
	}
	if opt.Window == 0 {
		opt.Window = DefaultWindow
	}
	if opt.Tick == 0 {
		opt.Tick = DefaultTick
	}
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.Health == nil {
		opt.Health = telemetry.NewHealthMonitor(telemetry.DefaultBackoffMin, telemetry.DefaultBackoffMax)
	}
	if opt.Metrics == nil {
		opt.Metrics, _ = NewMetrics(nil)
	}
	c := &Coordinator{
		alive:       alive.NewAlive(),
		opt:         opt,
		buffers:     make([]*telemetry.ChannelBuffer, opt.Channels),
		events:      make([]telemetry.Event, 0, 64),
		snapshotReq: make(chan chan View),
	}
	c.setState(StateAttemptingPush)
	return c, nil
}

func (c *Coordinator) State() State                     { return State(atomic.LoadUint32(&c.state)) }
func (c *Coordinator) Mode() telemetry.Mode             { return telemetry.Mode(atomic.LoadUint32(&c.mode)) }
func (c *Coordinator) Health() *telemetry.HealthMonitor { return c.opt.Health }
func (c *Coordinator) Channels() int                    { return c.opt.Channels }

// PushState is the connection state of push transport, as reported by transport itself.
func (c *Coordinator) PushState() telemetry.ConnectionState { return c.opt.Push.State() }

// LastTick returns session time of last completed tick.
func (c *Coordinator) LastTick() time.Duration { return time.Duration(atomic.LoadInt64(&c.lastTick)) }

// Run drives Tick at fixed interval until ctx is done, Stop() or session end.
// Returns ErrSessionEnded when push session closes after being active,
// nil on ctx cancel or Stop.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.alive.Add(1) {
		return ErrStopped
	}
	defer c.alive.Done()
	defer c.shutdown()

	ticker := time.NewTicker(c.opt.Tick)
	defer ticker.Stop()
	if err := c.Tick(ctx, c.opt.Clock.Now()); err != nil {
		return err
	}
	stopch := c.alive.StopChan()
	for {
		select {
		case <-ctx.Done():
			c.opt.Log.Debugf("run ctx done err=%v", ctx.Err())
			return nil
		case <-stopch:
			return nil
		case reply := <-c.snapshotReq:
			reply <- c.view()
		case <-ticker.C:
			if err := c.Tick(ctx, c.opt.Clock.Now()); err != nil {
				return err
			}
		}
	}
}

// Stop requests Run to return. Non-blocking, use Wait.
func (c *Coordinator) Stop() { c.alive.Stop() }

// Wait returns after Run returned.
func (c *Coordinator) Wait() { c.alive.Wait() }

// Snapshot asks running loop for a copy of all buffers.
func (c *Coordinator) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case c.snapshotReq <- reply:
	case <-ctx.Done():
		return View{}, errors.Annotate(ctx.Err(), "snapshot")
	case <-c.alive.WaitChan():
		return View{}, ErrStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, errors.Annotate(ctx.Err(), "snapshot")
	}
}

// Tick performs one scheduling step at session time now.
// Not safe for concurrent use, Run calls it from its own loop.
func (c *Coordinator) Tick(ctx context.Context, now time.Duration) error {
	defer atomic.StoreInt64(&c.lastTick, int64(now))
	state := c.State()
	if !c.begun {
		c.begin(ctx, now)
	}

	// transition made in this tick takes effect on next one
	switch state {
	case StateAttemptingPush, StatePushActive:
		if c.State() != state {
			break
		}
		c.drainPush(now)
		if c.State() == StateAttemptingPush && now-c.start >= c.opt.ConnectTimeout {
			c.fallback("timeout", nil)
		}
	case StatePollingFallback:
		c.poll(ctx, now)
	}
	c.trim(now)

	if c.State() == StateSessionEnded {
		return ErrSessionEnded
	}
	return nil
}

func (c *Coordinator) begin(ctx context.Context, now time.Duration) {
	c.begun = true
	c.start = now
	c.opt.Log.Debugf("session start, attempt push timeout=%s", c.opt.ConnectTimeout)
	if err := c.opt.Push.Start(ctx); err != nil {
		c.fallback("start", err)
	}
}

func (c *Coordinator) drainPush(now time.Duration) {
	c.events = c.opt.Queue.Drain(c.events[:0])
	for _, e := range c.events {
		switch e.Kind {
		case telemetry.EventOpened:
			if c.State() == StateAttemptingPush {
				c.opt.Log.Infof("push open after %s", now-c.start)
				c.setState(StatePushActive)
			}

		case telemetry.EventSample:
			if c.State() != StatePushActive {
				c.discard("inactive")
				continue
			}
			c.ingest(e.Sample, telemetry.ModePush)

		case telemetry.EventErrored:
			c.opt.Log.Errorf("push state=%s err=%v", c.State().String(), e.Err)
			if c.State() == StateAttemptingPush {
				c.fallback("error", e.Err)
			}

		case telemetry.EventClosed:
			switch c.State() {
			case StateAttemptingPush:
				c.fallback("closed", nil)
			case StatePushActive:
				c.opt.Log.Errorf("push closed, session ended")
				c.setState(StateSessionEnded)
			}
		}
		if s := c.State(); s != StateAttemptingPush && s != StatePushActive {
			// rest of events belong to abandoned or finished push session
			break
		}
	}
	// events may hold references to errors, keep capacity only
	for i := range c.events {
		c.events[i] = telemetry.Event{}
	}
}

func (c *Coordinator) fallback(reason string, err error) {
	if err != nil {
		c.opt.Log.Infof("push unavailable reason=%s err=%v, switching to pull", reason, err)
	} else {
		c.opt.Log.Infof("push unavailable reason=%s, switching to pull", reason)
	}
	c.opt.Metrics.Fallbacks.WithLabelValues(reason).Inc()
	c.opt.Push.Stop()
	c.opt.Queue.Close()
	atomic.StoreUint32(&c.mode, uint32(telemetry.ModePull))
	c.setState(StatePollingFallback)
}

func (c *Coordinator) poll(ctx context.Context, now time.Duration) {
	h := c.opt.Health
	if !h.Ready(now) {
		c.opt.Metrics.PullSkipped.Inc()
		return
	}
	values, err := c.opt.Pull.FetchLatest(ctx)
	if err != nil {
		n, delay := h.RecordFailure(now)
		c.opt.Metrics.PullFailures.Inc()
		if telemetry.ShouldWarn(n) {
			c.opt.Log.Warnf("pull failed %d times in a row, retry in %s err=%v", n, delay, err)
		} else {
			c.opt.Log.Debugf("pull failure=%d retry in %s err=%v", n, delay, err)
		}
		return
	}
	if before := h.RecordSuccess(now); before > 0 {
		c.opt.Log.Infof("connection restored after %d failures", before)
	}
	for ch := 0; ch < c.opt.Channels; ch++ {
		if v, ok := values[ch]; ok {
			c.ingest(telemetry.Sample{Channel: ch, Timestamp: now, Voltage: v}, telemetry.ModePull)
		}
	}
	for ch := range values {
		if ch < 0 || ch >= c.opt.Channels {
			c.discard("unknown-channel")
		}
	}
}

func (c *Coordinator) ingest(s telemetry.Sample, mode telemetry.Mode) {
	if s.Channel < 0 || s.Channel >= c.opt.Channels {
		c.opt.Log.Debugf("discard unknown channel sample=%s", s.String())
		c.discard("unknown-channel")
		return
	}
	b := c.buffers[s.Channel]
	if b == nil {
		b = telemetry.NewChannelBuffer(s.Channel)
		c.buffers[s.Channel] = b
	}
	if err := b.Append(s); err != nil {
		c.opt.Log.Debugf("discard err=%v", err)
		c.discard("rejected")
		return
	}
	c.opt.Metrics.Samples.WithLabelValues(mode.String()).Inc()
	for _, sink := range c.opt.Sinks {
		sink.Ingest(s, mode)
	}
}

func (c *Coordinator) discard(reason string) {
	c.opt.Metrics.Discarded.WithLabelValues(reason).Inc()
}

func (c *Coordinator) trim(now time.Duration) {
	for _, b := range c.buffers {
		if b == nil {
			continue
		}
		b.Trim(now, c.opt.Window)
		c.opt.Metrics.Buffered.WithLabelValues(strconv.Itoa(b.Channel())).Set(float64(b.Len()))
	}
}

func (c *Coordinator) shutdown() {
	c.alive.Stop()
	c.opt.Push.Stop()
	c.opt.Queue.Close()
	c.opt.Log.Debugf("stopped state=%s", c.State().String())
}

func (c *Coordinator) setState(s State) {
	atomic.StoreUint32(&c.state, uint32(s))
	c.opt.Metrics.State.Set(float64(s))
}
