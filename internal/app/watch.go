package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
)

// Watch runs cycles on the configured cron schedule until ctx is done.
// The config file is watched for changes in the background; an edited
// schedule takes effect on the next restart, everything else on the next
// cycle. Blocks.
func (a *App) Watch(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}

	parser := cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	schedule, err := parser.Parse(cfg.Watch.Schedule)
	if err != nil {
		return fmt.Errorf("watch.schedule: %w", err)
	}

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	runner := cron.New(cron.WithParser(parser))
	runner.Schedule(schedule, cron.FuncJob(func() {
		if err := a.RunOnce(ctx); err != nil {
			a.log.Error().Err(err).Msg("cycle failed")
		}
	}))

	// One immediate cycle before the schedule takes over, so a deploy does
	// not sit idle until the first tick.
	if err := a.RunOnce(ctx); err != nil {
		a.log.Error().Err(err).Msg("initial cycle failed")
	}

	runner.Start()
	a.log.Info().Str("schedule", cfg.Watch.Schedule).Msg("watch mode started")

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn().Err(err).Msg("sd_notify ready failed")
	} else if sent {
		a.log.Debug().Msg("notified systemd: ready")
	}
	stopWatchdog := a.startWatchdog(ctx)

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopWatchdog()
	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		a.log.Warn().Msg("timed out waiting for running cycle to finish")
	}
	a.log.Info().Msg("watch mode stopped")
	return nil
}

// startWatchdog pings the systemd watchdog at half the configured interval.
// No-op when WatchdogSec is not set.
func (a *App) startWatchdog(ctx context.Context) (stop func()) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return func() { close(done) }
}
