// Package systemd wraps sd_notify so the process reports its lifecycle
// when run as a Type=notify unit. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Watchdog feeds the systemd watchdog at half the configured interval
// until ctx is cancelled. It returns immediately when WatchdogSec is
// unset.
func Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
