package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/adcview/cmd/adcview/console"
	"github.com/temoto/adcview/cmd/adcview/run"
	"github.com/temoto/adcview/cmd/adcview/subcmd"
	"github.com/temoto/adcview/config"
	"github.com/temoto/adcview/internal/state"
	"github.com/temoto/adcview/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "", "path to adcview.hcl, empty = defaults")
	flagIP := cmdline.String("ip", "", "device address, overrides device.host")
	flagPort := cmdline.Int("port", 0, "device port, overrides device.port")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "Usage: %s [options] [command]\n\nCommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(cmdline.Output(), "  %-10s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(cmdline.Output(), "\nOptions:\n")
		cmdline.PrintDefaults()
	}
	_ = cmdline.Parse(os.Args[1:])

	command := cmdline.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	cfg := config.Default()
	if *flagConfig != "" {
		fs, err := config.NewOsFullReader(".")
		if err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		if cfg, err = config.Read(log, fs, *flagConfig); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
	}
	if *flagIP != "" {
		cfg.Device.Host = *flagIP
	}
	if *flagPort != 0 {
		cfg.Device.Port = *flagPort
	}

	ctx, _ := state.NewContext(log)
	if err := mod.Main(ctx, cfg); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
