// Package app wires configuration into the running monitor: logging,
// storage, sinks, sources, metrics and the session calendar.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/config"
	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/monitor"
	"github.com/TracingInsights-Archive/f1live/internal/notify"
	"github.com/TracingInsights-Archive/f1live/internal/observability/metrics"
	"github.com/TracingInsights-Archive/f1live/internal/observability/pprof"
	rtsup "github.com/TracingInsights-Archive/f1live/internal/runtime/supervisor"
	"github.com/TracingInsights-Archive/f1live/internal/schedule"
	"github.com/TracingInsights-Archive/f1live/internal/sink/bluesky"
	"github.com/TracingInsights-Archive/f1live/internal/sink/telegram"
	"github.com/TracingInsights-Archive/f1live/internal/storage"
	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// App owns every long-lived component of the process.
type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	met   *metrics.Set
	store storage.Store
	sup   *rtsup.Supervisor
}

// New loads and validates configuration and builds the shared services.
// Every error from New is a configuration error: the caller exits 1.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	var met *metrics.Set
	if cfg.Metrics.Enabled {
		met = metrics.NewSet()
	}

	var st storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		st, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("%w: storage: %v", monitor.ErrConfig, err)
		}
	}

	return &App{cfgm: cfgm, logSvc: logSvc, log: log, met: met, store: st}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty config", monitor.ErrConfig)
	}
	hasCalendar := cfg.Calendar != nil && cfg.Calendar.Enabled && len(cfg.Calendar.Entries) > 0
	if strings.TrimSpace(cfg.Session.ID) == "" && !hasCalendar {
		return fmt.Errorf("%w: session.id is required", monitor.ErrConfig)
	}
	if hasCalendar && strings.TrimSpace(cfg.Session.ID) == "" {
		for i, e := range cfg.Calendar.Entries {
			if strings.TrimSpace(e.Session) == "" {
				return fmt.Errorf("%w: calendar entry %d has no session and session.id is empty", monitor.ErrConfig, i)
			}
		}
	}

	bsky := cfg.Sinks.Bluesky != nil && cfg.Sinks.Bluesky.Enabled
	tg := cfg.Sinks.Telegram != nil && cfg.Sinks.Telegram.Enabled
	if !bsky && !tg {
		return fmt.Errorf("%w: at least one sink must be enabled", monitor.ErrConfig)
	}
	if bsky && (strings.TrimSpace(cfg.Sinks.Bluesky.Identifier) == "" || strings.TrimSpace(cfg.Sinks.Bluesky.Password) == "") {
		return fmt.Errorf("%w: bluesky sink needs identifier and password", monitor.ErrConfig)
	}
	if tg && (strings.TrimSpace(cfg.Sinks.Telegram.Token) == "" || cfg.Sinks.Telegram.ChatID == 0) {
		return fmt.Errorf("%w: telegram sink needs token and chat_id", monitor.ErrConfig)
	}

	if cfg.Source.Kind != "" && cfg.Source.Kind != "openf1" && cfg.Source.Kind != "stream" {
		return fmt.Errorf("%w: unknown source.kind %q", monitor.ErrConfig, cfg.Source.Kind)
	}
	if cfg.Source.Kind == "stream" && (cfg.Source.Stream == nil || strings.TrimSpace(cfg.Source.Stream.URL) == "") {
		return fmt.Errorf("%w: source.stream.url is required for the stream source", monitor.ErrConfig)
	}
	return nil
}

// Run executes the app until ctx is cancelled. In once mode it runs a
// single monitor for the configured session and returns when the
// session window closes. Otherwise the calendar drives runs.
func (a *App) Run(ctx context.Context, once bool, sessionOverride string) error {
	cfg := a.cfgm.Get()

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if a.met != nil {
		srv := metrics.NewServer(metrics.Config{
			Enabled: cfg.Metrics.Enabled,
			Addr:    cfg.Metrics.Addr,
		}, a.met, a.log.With(logx.String("comp", "metrics")))
		a.sup.GoRestart("metrics.server", srv.Start)
	}

	if cfg.Pprof.Enabled {
		prof, err := pprof.NewServer(pprof.Config{
			Enabled: cfg.Pprof.Enabled,
			Addr:    cfg.Pprof.Addr,
		}, a.log.With(logx.String("comp", "pprof")))
		if err != nil {
			return fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		a.sup.GoRestart("pprof.server", prof.Start)
	}

	// Hot reload applies logging changes live; everything else needs a
	// restart and is logged as such.
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.apply", func(c context.Context) error {
		ch := a.cfgm.Subscribe(1)
		defer a.cfgm.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return c.Err()
			case next := <-ch:
				if next == nil {
					continue
				}
				a.logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				a.log.Info("logging config applied; other changes take effect on next run")
			}
		}
	})

	if once || cfg.Calendar == nil || !cfg.Calendar.Enabled {
		sessionID := cfg.Session.ID
		if sessionOverride != "" {
			sessionID = sessionOverride
		}
		err := a.runSession(ctx, schedule.Run{SessionID: sessionID})
		a.shutdown()
		return err
	}

	cal, err := a.buildCalendar(cfg)
	if err != nil {
		return err
	}
	if err := cal.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	a.log.Info("waiting for calendar triggers")

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	cal.Stop(stopCtx)
	cancel()
	a.shutdown()
	return nil
}

func (a *App) buildCalendar(cfg *config.Config) (*schedule.Service, error) {
	entries := make([]schedule.Entry, 0, len(cfg.Calendar.Entries))
	for i, e := range cfg.Calendar.Entries {
		maxDur, err := config.ParseDurationField(fmt.Sprintf("calendar.entries[%d].max_duration", i), e.MaxDuration)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		entry := schedule.Entry{
			SessionID:   e.Session,
			CronSpec:    e.Cron,
			MaxDuration: maxDur,
		}
		if e.At != "" {
			at, err := time.Parse(time.RFC3339, e.At)
			if err != nil {
				return nil, fmt.Errorf("%w: calendar.entries[%d].at: %v", monitor.ErrConfig, i, err)
			}
			entry.At = at
		}
		if entry.SessionID == "" {
			entry.SessionID = cfg.Session.ID
		}
		entries = append(entries, entry)
	}

	cal, err := schedule.New(schedule.Config{
		Enabled:  cfg.Calendar.Enabled,
		Timezone: cfg.Calendar.Timezone,
		Entries:  entries,
	}, func(runCtx context.Context, run schedule.Run) {
		if err := a.runSession(runCtx, run); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("session run failed", logx.String("session", run.SessionID), logx.Err(err))
		}
	}, a.log.With(logx.String("comp", "calendar")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	return cal, nil
}

// runSession builds the per-run components (source, sinks, dispatcher,
// monitor) and drives one session to completion.
func (a *App) runSession(ctx context.Context, run schedule.Run) error {
	cfg := a.cfgm.Get()
	log := a.log.With(logx.String("comp", "monitor"), logx.String("session", run.SessionID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	source, err := a.buildSource(runCtx, cfg)
	if err != nil {
		return err
	}

	sinks, maxChars, err := a.buildSinks(cfg)
	if err != nil {
		return err
	}

	policy, err := dispatchPolicy(cfg.Dispatch)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(sinks, policy,
		a.log.With(logx.String("comp", "dispatch")), a.met)

	mcfg, err := monitorConfig(cfg, run, maxChars)
	if err != nil {
		return err
	}

	mon, err := monitor.New(mcfg, monitor.Deps{
		Source:     source,
		Dispatcher: dispatcher,
		Store:      a.store,
		Log:        log,
		Metrics:    a.met,
	})
	if err != nil {
		return err
	}
	return mon.Run(runCtx)
}

func (a *App) buildSource(runCtx context.Context, cfg *config.Config) (timing.Source, error) {
	if cfg.Source.Kind == "stream" {
		sc := cfg.Source.Stream
		handshake, err := config.ParseDurationField("source.stream.handshake_timeout", sc.HandshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		reconnect, err := config.ParseDurationField("source.stream.reconnect_delay", sc.ReconnectDelay)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		stream, err := timing.NewStream(timing.StreamConfig{
			URL:              sc.URL,
			Topic:            sc.Topic,
			HandshakeTimeout: handshake,
			ReconnectDelay:   reconnect,
			BufferLimit:      sc.BufferLimit,
		}, a.log.With(logx.String("comp", "stream")))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		// The read loop lives for this run only.
		a.sup.Go("stream.read", func(context.Context) error {
			return stream.Run(runCtx)
		})
		return stream, nil
	}

	var oc config.OpenF1SourceConfig
	if cfg.Source.OpenF1 != nil {
		oc = *cfg.Source.OpenF1
	}
	timeout, err := config.ParseDurationField("source.openf1.timeout", oc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	return timing.NewOpenF1(timing.OpenF1Config{
		BaseURL: oc.BaseURL,
		Timeout: timeout,
	}, a.log.With(logx.String("comp", "openf1"))), nil
}

// buildSinks returns the enabled sinks and the strictest post-length
// limit among them (0 if none imposes one).
func (a *App) buildSinks(cfg *config.Config) ([]notify.Sink, int, error) {
	var sinks []notify.Sink
	maxChars := 0

	if bc := cfg.Sinks.Bluesky; bc != nil && bc.Enabled {
		timeout, err := config.ParseDurationField("sinks.bluesky.timeout", bc.Timeout)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		s, err := bluesky.New(bluesky.Config{
			Host:       bc.Host,
			Identifier: bc.Identifier,
			Password:   bc.Password,
			Timeout:    timeout,
		}, a.log.With(logx.String("comp", "bluesky")))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		sinks = append(sinks, s)
		maxChars = bluesky.MaxPostChars
	}

	if tc := cfg.Sinks.Telegram; tc != nil && tc.Enabled {
		s, err := telegram.New(telegram.Config{
			Token:    tc.Token,
			ChatID:   tc.ChatID,
			ThreadID: tc.ThreadID,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Message.MaxChars > 0 {
		maxChars = cfg.Message.MaxChars
	}
	return sinks, maxChars, nil
}

func dispatchPolicy(dc config.DispatchConfig) (notify.Policy, error) {
	retryBase, err := config.ParseDurationField("dispatch.retry_base", dc.RetryBase)
	if err != nil {
		return notify.Policy{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	retryMaxDelay, err := config.ParseDurationField("dispatch.retry_max_delay", dc.RetryMaxDelay)
	if err != nil {
		return notify.Policy{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	rateLimited, err := config.ParseDurationField("dispatch.rate_limited_delay", dc.RateLimitedDelay)
	if err != nil {
		return notify.Policy{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	postTimeout, err := config.ParseDurationField("dispatch.post_timeout", dc.PostTimeout)
	if err != nil {
		return notify.Policy{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	return notify.Policy{
		RatePerSec:       dc.RatePerSec,
		RetryMax:         dc.RetryMax,
		RetryBase:        retryBase,
		RetryMaxDelay:    retryMaxDelay,
		RateLimitedDelay: rateLimited,
		PostTimeout:      postTimeout,
	}, nil
}

func monitorConfig(cfg *config.Config, run schedule.Run, maxChars int) (monitor.Config, error) {
	interval, err := config.ParseDurationOrDefault("session.interval", cfg.Session.Interval, 5*time.Second)
	if err != nil {
		return monitor.Config{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	maxDur, err := config.ParseDurationOrDefault("session.max_duration", cfg.Session.MaxDuration, 4*time.Hour)
	if err != nil {
		return monitor.Config{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	if run.MaxDuration > 0 {
		maxDur = run.MaxDuration
	}
	retryBase, err := config.ParseDurationOrDefault("session.fetch_retry_base", cfg.Session.FetchRetryBase, time.Second)
	if err != nil {
		return monitor.Config{}, fmt.Errorf("%w: %v", monitor.ErrConfig, err)
	}
	retryMax := 3
	if cfg.Session.FetchRetryMax != nil {
		retryMax = *cfg.Session.FetchRetryMax
	}

	return monitor.Config{
		SessionID:       run.SessionID,
		Interval:        interval,
		Window:          monitor.NewWindow(time.Time{}, maxDur),
		FetchRetryMax:   retryMax,
		FetchRetryBase:  retryBase,
		StopOnChequered: cfg.Session.StopOnChequered,
		Message: message.Config{
			Hashtags: cfg.Message.Hashtags,
			MaxChars: maxChars,
		},
	}, nil
}

func (a *App) shutdown() {
	if a.sup != nil {
		a.sup.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.sup.Wait(waitCtx)
		cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
}
