// Package state assembles one telemetry session from config:
// transports, coordinator, metrics and optional outer surfaces.
package state

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/temoto/adcview/config"
	"github.com/temoto/adcview/coordinator"
	"github.com/temoto/adcview/forward"
	"github.com/temoto/adcview/helpers"
	"github.com/temoto/adcview/httpapi"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
	"github.com/temoto/adcview/transport/pull"
	"github.com/temoto/adcview/transport/push"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive    *alive.Alive
	Config   *config.Config
	Clock    *telemetry.MonoClock
	Log      *log2.Log
	Registry *prometheus.Registry

	Queue       *telemetry.Queue
	Push        *push.Transport
	Pull        *pull.Transport
	Health      *telemetry.HealthMonitor
	Coordinator *coordinator.Coordinator
	Forward     *forward.Forwarder
	Report      *Report

	// Tests replace MQTT client constructor.
	XXX_forwardOptions func(*forward.Options)

	http     *http.Server
	httpAddr atomic.Value // net.Addr
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	g := &Global{
		Alive:    alive.NewAlive(),
		Clock:    telemetry.NewMonoClock(),
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	g.Config = cfg
	level, _ := log2.ParseLevel(cfg.Log.Level)
	g.Log.SetLevel(level)

	metrics, err := coordinator.NewMetrics(g.Registry)
	if err != nil {
		return err
	}
	errs := make([]error, 0)
	errs = append(errs, g.Registry.Register(collectors.NewGoCollector()))

	g.Queue = telemetry.NewQueue(cfg.Push.QueueSize)
	errs = append(errs, coordinator.RegisterQueue(g.Registry, g.Queue))
	g.Push, err = push.New(push.Options{
		Log:   g.Log.Component("push"),
		URL:   cfg.PushURL(),
		Clock: g.Clock,
		// dial must not give up before coordinator attempt window ends
		HandshakeTimeout: cfg.ConnectTimeout(),
		DegradedAfter:    cfg.DegradedAfter(),
		DeadAfter:        cfg.DeadAfter(),
		Hello:            cfg.Push.Hello,
	}, g.Queue)
	if err != nil {
		return errors.Annotate(err, "push init")
	}
	errs = append(errs, coordinator.RegisterTransportStat(g.Registry, "push", g.Push.Stat()))

	g.Pull, err = pull.New(pull.Options{
		Log:     g.Log.Component("pull"),
		URL:     cfg.PullURL(),
		Timeout: cfg.PullTimeout(),
	})
	if err != nil {
		return errors.Annotate(err, "pull init")
	}
	errs = append(errs, coordinator.RegisterTransportStat(g.Registry, "pull", g.Pull.Stat()))
	g.Health = telemetry.NewHealthMonitor(telemetry.DefaultBackoffMin, cfg.BackoffMax())

	g.Report = NewReport(cfg.Channels)
	sinks := []coordinator.Sink{}
	if cfg.Forward.Enable {
		fopt := forward.Options{
			Log:         g.Log.Component("forward"),
			Broker:      cfg.Forward.MqttBroker,
			TopicPrefix: cfg.Forward.TopicPrefix,
			ClientID:    cfg.Forward.ClientID,
			Qos:         byte(cfg.Forward.Qos),
		}
		if g.XXX_forwardOptions != nil {
			g.XXX_forwardOptions(&fopt)
		} else {
			forward.SetLibraryLog(g.Log.Component("mqtt"), cfg.Forward.LogDebug)
		}
		g.Forward, err = forward.New(fopt)
		if err != nil {
			return errors.Annotate(err, "forward init")
		}
		sinks = append(sinks, g.Forward)
	}

	g.Coordinator, err = coordinator.New(coordinator.Options{
		Log:            g.Log.Component("coord"),
		Clock:          g.Clock,
		Channels:       cfg.Channels,
		Window:         cfg.Window(),
		Tick:           cfg.Tick(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Push:           g.Push,
		Queue:          g.Queue,
		Pull:           g.Pull,
		Health:         g.Health,
		Metrics:        metrics,
		Sinks:          sinks,
	})
	if err != nil {
		return errors.Annotate(err, "coordinator init")
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *config.Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Run starts outer surfaces and blocks in coordinator loop until ctx done, Stop() or session end.
func (g *Global) Run(ctx context.Context) error {
	if !g.Alive.Add(1) {
		return coordinator.ErrStopped
	}
	defer g.Alive.Done()
	defer g.Alive.Stop()
	ctx, cancel := helpers.AliveContext(ctx, g.Alive)
	defer cancel()

	if g.Forward != nil {
		if err := g.Forward.Start(); err != nil {
			return errors.Annotate(err, "forward start")
		}
		defer g.Forward.Stop()
	}
	if g.Config.HTTP.Listen != "" {
		if err := g.startHTTP(); err != nil {
			return err
		}
		defer g.stopHTTP()
	}

	g.Log.Infof("session start push=%s pull=%s channels=%d window=%s",
		g.Config.PushURL(), g.Config.PullURL(), g.Config.Channels, g.Config.Window())
	err := g.Coordinator.Run(ctx)
	g.Log.Infof("session end state=%s err=%v", g.Coordinator.State().String(), err)
	return err
}

// Stop makes Run return.
func (g *Global) Stop() { g.Alive.Stop() }

// HTTPAddr returns bound address when http.listen is set and Run started.
func (g *Global) HTTPAddr() net.Addr {
	addr, _ := g.httpAddr.Load().(net.Addr)
	return addr
}

func (g *Global) startHTTP() error {
	ln, err := net.Listen("tcp", g.Config.HTTP.Listen)
	if err != nil {
		return errors.Annotatef(err, "http listen=%s", g.Config.HTTP.Listen)
	}
	g.httpAddr.Store(ln.Addr())
	g.http = &http.Server{
		Handler:           httpapi.New(g.Log.Component("http"), g.Coordinator, g.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Log.Infof("http listen=%s", ln.Addr().String())
	go func() {
		if err := g.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.Log.Errorf("http serve err=%v", err)
		}
	}()
	return nil
}

func (g *Global) stopHTTP() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.http.Shutdown(ctx); err != nil {
		g.Log.Errorf("http shutdown err=%v", err)
	}
}
