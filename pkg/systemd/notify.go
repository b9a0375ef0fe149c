// Package systemd reports service state to systemd. Every call is a no-op when the process
// is not started by a Type=notify unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "xbot/pkg/logx"
)

func Ready() bool { return notify(daemon.SdNotifyReady) }

func Stopping() bool { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) bool { return notify("STATUS=" + msg) }

func notify(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	return ok && err == nil
}

// Watchdog pings systemd at half the unit's WatchdogSec until ctx is done. It returns at
// once when the watchdog is not enabled. healthy is consulted before every ping; a false
// result skips the ping so systemd restarts the service.
func Watchdog(ctx context.Context, healthy func() bool, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("unhealthy; skipping watchdog ping")
				continue
			}
			notify(daemon.SdNotifyWatchdog)
		}
	}
}
