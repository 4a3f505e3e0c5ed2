// Package forward republishes accepted samples to MQTT broker for downstream consumers.
// Forwarder never blocks coordinator loop: samples go through bounded buffer
// and are dropped when buffer is full or broker is not connected.
package forward

import (
	"encoding/json"
	"expvar"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
	"github.com/temoto/alive/v2"
)

const (
	DefaultNetworkTimeout = 5 * time.Second
	DefaultBufferSize     = 1024
)

type Options struct {
	Log            *log2.Log
	Broker         string
	TopicPrefix    string
	ClientID       string // empty = adcview-<session prefix>
	Qos            byte
	NetworkTimeout time.Duration
	BufferSize     int

	// NewClient is replaced in tests, default mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type Stat struct {
	Published expvar.Int
	Dropped   expvar.Int
	Errors    expvar.Int
}

// Message is JSON payload published per sample.
type Message struct {
	Session string  `json:"session"`
	Channel int     `json:"channel"`
	T       float64 `json:"t"` // seconds since session start
	V       float64 `json:"v"`
	Mode    string  `json:"mode"`
}

type Forwarder struct {
	alive   *alive.Alive
	log     *log2.Log
	opt     Options
	m       mqtt.Client
	mopt    *mqtt.ClientOptions
	session string
	ch      chan Message
	stat    Stat
	once    sync.Once
}

var libLogOnce sync.Once

// SetLibraryLog routes paho internal logging. Paho uses package globals, call once per process.
func SetLibraryLog(log *log2.Log, debug bool) {
	libLogOnce.Do(func() {
		mqtt.CRITICAL = log
		mqtt.ERROR = log
		mqtt.WARN = log
		if debug {
			mqtt.DEBUG = log
		}
	})
}

func New(opt Options) (*Forwarder, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("forward broker empty")
	}
	if opt.Qos > 2 {
		return nil, errors.NotValidf("forward qos=%d", opt.Qos)
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.BufferSize == 0 {
		opt.BufferSize = DefaultBufferSize
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	opt.TopicPrefix = strings.TrimSuffix(opt.TopicPrefix, "/")

	session := uuid.New().String()
	if opt.ClientID == "" {
		opt.ClientID = "adcview-" + session[:8]
	}
	f := &Forwarder{
		alive:   alive.NewAlive(),
		log:     opt.Log,
		opt:     opt,
		session: session,
		ch:      make(chan Message, opt.BufferSize),
	}
	f.mopt = mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetConnectTimeout(opt.NetworkTimeout).
		SetKeepAlive(opt.NetworkTimeout * 2).
		SetMaxReconnectInterval(opt.NetworkTimeout * 3).
		SetOrderMatters(false).
		SetPingTimeout(opt.NetworkTimeout).
		SetWriteTimeout(opt.NetworkTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			f.log.Errorf("broker connection lost err=%v", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			f.log.Infof("broker connected session=%s", f.session)
		})
	f.m = opt.NewClient(f.mopt)
	return f, nil
}

func (f *Forwarder) Session() string { return f.session }
func (f *Forwarder) Stat() *Stat     { return &f.stat }

func (f *Forwarder) Topic(channel int) string {
	return fmt.Sprintf("%s/channel%d", f.opt.TopicPrefix, channel)
}

// Start connects in background and runs publisher.
func (f *Forwarder) Start() error {
	if !f.alive.Add(2) {
		return errors.New("forward already stopped")
	}
	go f.connect()
	go f.publisher()
	return nil
}

// Stop is safe to call multiple times, waits until publisher exits.
func (f *Forwarder) Stop() {
	f.once.Do(func() {
		f.alive.Stop()
		f.alive.Wait()
		f.m.Disconnect(uint(f.opt.NetworkTimeout / time.Millisecond))
	})
}

// Ingest implements coordinator.Sink.
func (f *Forwarder) Ingest(s telemetry.Sample, mode telemetry.Mode) {
	msg := Message{
		Session: f.session,
		Channel: s.Channel,
		T:       s.Seconds(),
		V:       s.Voltage,
		Mode:    mode.String(),
	}
	select {
	case f.ch <- msg:
	default:
		f.stat.Dropped.Add(1)
	}
}

func (f *Forwarder) connect() {
	defer f.alive.Done()
	stopch := f.alive.StopChan()
	for f.alive.IsRunning() && !f.m.IsConnected() {
		t := f.m.Connect()
		if err := f.tokenWait(t, "connect"); err == nil {
			return
		}
		select {
		case <-stopch:
			return
		case <-time.After(time.Second):
		}
	}
}

func (f *Forwarder) publisher() {
	defer f.alive.Done()
	stopch := f.alive.StopChan()
	for {
		select {
		case <-stopch:
			return
		case msg := <-f.ch:
			f.publish(msg)
		}
	}
}

func (f *Forwarder) publish(msg Message) {
	if !f.m.IsConnectionOpen() {
		f.stat.Dropped.Add(1)
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		f.stat.Errors.Add(1)
		f.log.Errorf("forward marshal err=%v", err)
		return
	}
	t := f.m.Publish(f.Topic(msg.Channel), f.opt.Qos, false, b)
	if err := f.tokenWait(t, "publish"); err != nil {
		f.stat.Errors.Add(1)
		return
	}
	f.stat.Published.Add(1)
}

func (f *Forwarder) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(f.opt.NetworkTimeout) {
		err := errors.Errorf("%s timeout", tag)
		f.log.Errorf("mqtt %s", err.Error())
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		f.log.Errorf("mqtt %s", err.Error())
		return err
	}
	return nil
}
