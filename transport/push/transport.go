// Package push is the streaming transport: device pushes samples over websocket.
//
// Contract:
// - Start() returns immediately, dial and receive loop run in background
// - every lifecycle change and every data frame goes into one ordered event stream (Sink)
// - no internal retry, after Closed event the transport is done
// - Stop() is best-effort, Wait() returns after receive loop exits
package push

import (
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/adcview/helpers"
	"github.com/temoto/adcview/helpers/atomic_clock"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
	"github.com/temoto/alive/v2"
)

const (
	DefaultHandshakeTimeout = 8 * time.Second
	DefaultDegradedAfter    = 2 * time.Second
	DefaultReadLimit        = 16 << 10
	DefaultWriteTimeout     = 2 * time.Second
)

var ErrClosing = errors.New("closing")

type Options struct {
	Log   *log2.Log
	URL   string // ws://host:port/ws
	Clock telemetry.Clock

	HandshakeTimeout time.Duration
	// Open connection without frames for this long reports Degraded.
	DegradedAfter time.Duration
	// Read deadline, no frame for this long is transport failure. 0 disables.
	DeadAfter time.Duration
	// Sent as {"type":"connect","message":Hello} once open. Empty disables.
	Hello     string
	ReadLimit int64
}

type Transport struct {
	alive    *alive.Alive
	opt      Options
	sink     telemetry.Sink
	dialer   websocket.Dialer
	state    uint32
	started  uint32
	lastRecv atomic_clock.Clock
	stat     telemetry.TransportStat

	mu   sync.Mutex // protects conn, raw
	conn *websocket.Conn
	raw  net.Conn // tcp under handshake, closed by Stop to interrupt dial
}

// New validates options. Sink Put may block while full,
// owner must close sink to unblock transport on shutdown.
func New(opt Options, sink telemetry.Sink) (*Transport, error) {
	if sink == nil {
		return nil, errors.NotValidf("code error push sink=nil")
	}
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error push url=%s", opt.URL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.NotValidf("push url=%s scheme=%s", opt.URL, u.Scheme)
	}
	if opt.Clock == nil {
		opt.Clock = telemetry.NewMonoClock()
	}
	if opt.HandshakeTimeout == 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opt.DegradedAfter == 0 {
		opt.DegradedAfter = DefaultDegradedAfter
	}
	if opt.ReadLimit == 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	t := &Transport{
		alive:  alive.NewAlive(),
		opt:    opt,
		sink:   sink,
		dialer: *websocket.DefaultDialer,
		state:  uint32(telemetry.ConnConnecting),
	}
	t.dialer.HandshakeTimeout = opt.HandshakeTimeout
	t.dialer.NetDialContext = t.netDial
	return t, nil
}

// Start begins connection attempt in background goroutine.
func (t *Transport) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&t.started, 0, 1) {
		return errors.Errorf("code error push already started")
	}
	if !t.alive.Add(1) {
		return ErrClosing
	}
	go t.run(ctx)
	return nil
}

// Stop closes connection to unblock dial or receive loop and returns immediately.
func (t *Transport) Stop() {
	t.alive.Stop()
	t.closeConn()
}

// Wait blocks until Stop() is called and receive loop exits.
func (t *Transport) Wait() { t.alive.Wait() }

func (t *Transport) Stat() *telemetry.TransportStat { return &t.stat }
func (t *Transport) Options() Options               { return t.opt }

// State derives Degraded from time since last received frame.
func (t *Transport) State() telemetry.ConnectionState {
	s := telemetry.ConnectionState(atomic.LoadUint32(&t.state))
	if s == telemetry.ConnOpen && atomic_clock.Since(&t.lastRecv) > t.opt.DegradedAfter {
		return telemetry.ConnDegraded
	}
	return s
}

// SinceLastRecv returns zero before connection is open.
func (t *Transport) SinceLastRecv() time.Duration { return atomic_clock.Since(&t.lastRecv) }

func (t *Transport) run(ctx context.Context) {
	defer t.alive.Done()
	ctx, cancel := helpers.AliveContext(ctx, t.alive)
	defer cancel()

	t.opt.Log.Debugf("dial url=%s timeout=%s", t.opt.URL, t.opt.HandshakeTimeout)
	dialCtx, dialCancel := context.WithTimeout(ctx, t.opt.HandshakeTimeout)
	conn, _, err := t.dialer.DialContext(dialCtx, t.opt.URL, nil)
	dialCancel()
	if err != nil {
		if !t.alive.IsRunning() {
			t.closed()
			return
		}
		t.fail(errors.Annotatef(err, "dial url=%s", t.opt.URL))
		return
	}
	if !t.setConn(conn) {
		_ = conn.Close()
		t.closed()
		return
	}
	conn.SetReadLimit(t.opt.ReadLimit)

	t.lastRecv.SetNow()
	t.setState(telemetry.ConnOpen)
	t.opt.Log.Infof("open url=%s", t.opt.URL)
	t.emit(telemetry.EventOpen())

	if t.opt.Hello != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
		if err = conn.WriteMessage(websocket.TextMessage, HelloFrame(t.opt.Hello)); err != nil {
			t.fail(errors.Annotate(err, "send hello"))
			return
		}
	}

	for {
		if t.opt.DeadAfter != 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t.opt.DeadAfter))
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			if !t.alive.IsRunning() {
				t.closed()
				return
			}
			t.fail(errors.Annotate(err, "receive"))
			return
		}
		now := t.opt.Clock.Now()
		t.lastRecv.SetNow()
		t.stat.Frames.Add(1)
		t.stat.Bytes.Add(int64(len(b)))
		t.onFrame(b, now)
	}
}

func (t *Transport) onFrame(b []byte, now time.Duration) {
	s, ok, err := ParseFrame(b, now)
	switch {
	case err != nil:
		t.stat.Malformed.Add(1)
		t.opt.Log.Errorf("drop frame=%q err=%v", b, err)
	case !ok:
		t.stat.Ignored.Add(1)
		t.opt.Log.Debugf("ignore frame=%s", b)
	default:
		t.stat.Samples.Add(1)
		t.emit(telemetry.EventData(s))
	}
}

func (t *Transport) emit(e telemetry.Event) {
	if err := t.sink.Put(e); err != nil {
		t.opt.Log.Debugf("sink drop event=%s err=%v", e.String(), err)
	}
}

// fail reports transport failure: Errored then Closed.
func (t *Transport) fail(err error) {
	t.stat.Errors.Add(1)
	t.opt.Log.Errorf("%v", err)
	t.closeConn()
	t.setState(telemetry.ConnClosed)
	t.emit(telemetry.EventError(err))
	t.emit(telemetry.EventClose())
}

// closed reports requested shutdown.
func (t *Transport) closed() {
	t.closeConn()
	t.setState(telemetry.ConnClosed)
	t.opt.Log.Infof("closed")
	t.emit(telemetry.EventClose())
}

// setConn returns false if Stop() happened during dial.
func (t *Transport) setConn(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.alive.IsRunning() {
		return false
	}
	t.conn = conn
	return true
}

func (t *Transport) closeConn() {
	t.mu.Lock()
	conn, raw := t.conn, t.raw
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if raw != nil {
		_ = raw.Close()
	}
}

// netDial keeps tcp connection reachable for Stop while websocket handshake
// is in progress, the handshake itself does not watch ctx.
func (t *Transport) netDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.alive.IsRunning() {
		_ = raw.Close()
		return nil, ErrClosing
	}
	t.raw = raw
	return raw, nil
}

func (t *Transport) setState(s telemetry.ConnectionState) {
	atomic.StoreUint32(&t.state, uint32(s))
}
