package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/TracingInsights-Archive/f1live/internal/app"
	"github.com/TracingInsights-Archive/f1live/pkg/systemd"
)

func main() {
	var (
		cfgPath string
		once    bool
		session string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.BoolVar(&once, "once", false, "run a single session now, ignoring the calendar")
	flag.StringVar(&session, "session", "", "session id override (implies -once)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	// Lifecycle reporting for Type=notify units; no-op elsewhere.
	systemd.NotifyReady()
	go systemd.Watchdog(ctx)

	if session != "" {
		once = true
	}
	err = a.Run(ctx, once, session)
	systemd.NotifyStopping()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
