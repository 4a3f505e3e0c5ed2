// Interactive console: inspect session, toggle report channels.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/adcview/cmd/adcview/subcmd"
	"github.com/temoto/adcview/config"
	"github.com/temoto/adcview/coordinator"
	"github.com/temoto/adcview/helpers/cli"
	"github.com/temoto/adcview/internal/state"
	"github.com/temoto/adcview/log2"
)

const usage = `commands:
- status       session state and pull health
- report       per channel summary
- snapshot N   samples in window of channel N
- show N       include channel N in report
- hide N       exclude channel N from report
- log=LEVEL    error|warn|info|debug
- quit
`

var Mod = subcmd.Mod{Name: "console", Usage: "interactive session inspector", Main: Main}

func Main(ctx context.Context, cfg *config.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)

	errch := make(chan error, 1)
	go func() { errch <- g.Run(ctx) }()

	exec := newExecutor(ctx, os.Stdout)
	err := cli.MainLoop("adcview", func(line string) {
		if exec(line) {
			// prompt loop does not return by itself
			os.Exit(finish(g, errch))
		}
	}, newCompleter(), func(os.Signal) { g.Stop() })
	if err != nil {
		return errors.Annotate(err, "console input")
	}
	g.Stop()
	return <-errch
}

// finish stops session and returns process exit code, non-zero when Run failed
// (including push session ended).
func finish(g *state.Global, errch <-chan error) int {
	g.Stop()
	if err := <-errch; err != nil {
		g.Log.Error(errors.ErrorStack(errors.Annotate(err, "console")))
		return 1
	}
	return 0
}

func newCompleter() prompt.Completer {
	suggests := []prompt.Suggest{
		{Text: "status", Description: "session state"},
		{Text: "report", Description: "per channel summary"},
		{Text: "snapshot", Description: "samples of channel N"},
		{Text: "show", Description: "include channel in report"},
		{Text: "hide", Description: "exclude channel from report"},
		{Text: "log=debug", Description: "verbose logging"},
		{Text: "log=info", Description: "normal logging"},
		{Text: "quit", Description: "stop session and exit"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

// newExecutor returns line handler, true result means quit.
func newExecutor(ctx context.Context, w io.Writer) func(string) bool {
	g := state.GetGlobal(ctx)
	snapshot := func() (coordinator.View, error) {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return g.Coordinator.Snapshot(sctx)
	}
	return func(line string) bool {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			return false
		}
		switch cmd := parts[0]; {
		case cmd == "quit" || cmd == "exit":
			return true

		case cmd == "help":
			fmt.Fprint(w, usage)

		case cmd == "status":
			h := g.Coordinator.Health()
			fmt.Fprintf(w, "state=%s mode=%s push=%s pull_failures=%d total=%d\n",
				g.Coordinator.State().String(), g.Coordinator.Mode().String(),
				g.Coordinator.PushState().String(), h.FailureCount(), h.TotalFailures())
			fmt.Fprintf(w, "push stat=%s\npull stat=%s\n", g.Push.Stat().String(), g.Pull.Stat().String())

		case cmd == "report":
			v, err := snapshot()
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				return false
			}
			fmt.Fprintln(w, g.Report.Format(v))

		case cmd == "snapshot" || cmd == "show" || cmd == "hide":
			ch, err := channelArg(parts, g.Config.Channels)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				return false
			}
			switch cmd {
			case "show":
				_ = g.Report.Show(ch)
			case "hide":
				_ = g.Report.Hide(ch)
			case "snapshot":
				v, err := snapshot()
				if err != nil {
					fmt.Fprintf(w, "error: %v\n", err)
					return false
				}
				for _, s := range v.Channel(ch) {
					fmt.Fprintf(w, "%.3f %.4f\n", s.Seconds(), s.Voltage)
				}
			}

		case strings.HasPrefix(cmd, "log="):
			level, err := log2.ParseLevel(strings.TrimPrefix(cmd, "log="))
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				return false
			}
			g.Log.SetLevel(level)

		default:
			fmt.Fprintf(w, "error: unknown command '%s'\n%s", cmd, usage)
		}
		return false
	}
}

func channelArg(parts []string, channels int) (int, error) {
	if len(parts) != 2 {
		return 0, errors.Errorf("%s requires channel number", parts[0])
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil || ch < 0 || ch >= channels {
		return 0, errors.NotValidf("channel=%s (0..%d)", parts[1], channels-1)
	}
	return ch, nil
}
