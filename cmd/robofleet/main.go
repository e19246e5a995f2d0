package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robofleet/internal/app"
	"robofleet/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty runs the built-in demo workload")
	flag.BoolVar(&demo, "demo", false, "enqueue the built-in demo workload even when a config file is given")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fmt.Println("fatal:", err)
			return 1
		}
		cfg = loaded
	}
	if demo {
		cfg.Feeds.Demo = true
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Println("fatal:", err)
		return 1
	}

	// The app owns its own lifetime; signals pick the stop reason instead
	// of cancelling a shared context, so a graceful drain still runs.
	if err := a.Start(context.Background()); err != nil {
		fmt.Println("fatal start:", err)
		return 1
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	waitErr := make(chan error, 1)
	go func() { waitErr <- a.Wait(context.Background()) }()

	reason := app.StopUnknown
	code := 0
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case err := <-waitErr:
		if err == nil {
			reason = app.StopDrained
		} else {
			reason = app.StopFatalError
			fmt.Println("fatal:", err)
			code = 1
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return code
}
