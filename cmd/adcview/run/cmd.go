// Headless session printing periodic report.
package run

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/adcview/cmd/adcview/subcmd"
	"github.com/temoto/adcview/config"
	"github.com/temoto/adcview/internal/state"
	"golang.org/x/sys/unix"
)

var Mod = subcmd.Mod{Name: "run", Usage: "stream telemetry, log report every report_sec", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)
	g.Log.Debugf("config=%+v", *g.Config)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	defer signal.Stop(sigch)
	go func() {
		s, ok := <-sigch
		if ok {
			g.Log.Infof("signal=%v, stopping", s)
			g.Stop()
		}
	}()

	go reportLoop(ctx, g, g.Config.ReportInterval())
	subcmd.SdNotify(daemon.SdNotifyReady)
	err := g.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return errors.Annotate(err, "run")
}

func reportLoop(ctx context.Context, g *state.Global, interval time.Duration) {
	tmr := time.NewTicker(interval)
	defer tmr.Stop()
	stopch := g.Alive.StopChan()
	for {
		select {
		case <-stopch:
			return
		case <-tmr.C:
			sctx, cancel := context.WithTimeout(ctx, interval)
			v, err := g.Coordinator.Snapshot(sctx)
			cancel()
			if err != nil {
				g.Log.Debugf("report err=%v", err)
				continue
			}
			g.Log.Infof("%s", g.Report.Format(v))
		}
	}
}
