// Package schedule triggers monitor runs from a configured session
// calendar. It is the in-process counterpart of an external cron
// trigger: entries fire, runs happen, overlapping triggers are skipped.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// Run describes one triggered monitor run.
type Run struct {
	SessionID   string
	MaxDuration time.Duration // 0 keeps the session default
}

// RunFunc executes a monitor run. It blocks until the run finishes.
type RunFunc func(ctx context.Context, run Run)

// Entry is one calendar line. Exactly one of CronSpec or At is set.
type Entry struct {
	SessionID   string
	CronSpec    string
	At          time.Time
	MaxDuration time.Duration
}

// Config configures the calendar.
type Config struct {
	Enabled  bool
	Timezone string
	Entries  []Entry
}

type Service struct {
	cfg    Config
	run    RunFunc
	log    logx.Logger
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	timers  []*time.Timer
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, run RunFunc, log logx.Logger) (*Service, error) {
	if run == nil {
		return nil, errors.New("schedule: run callback is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		run: run,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	// Validate entries up front so bad calendars fail at startup, not at
	// trigger time.
	for i, e := range cfg.Entries {
		if (e.CronSpec == "") == e.At.IsZero() {
			return nil, fmt.Errorf("schedule: entry %d must set exactly one of cron or at", i)
		}
		if e.CronSpec != "" {
			if _, err := s.parser.Parse(e.CronSpec); err != nil {
				return nil, fmt.Errorf("schedule: entry %d: invalid cron spec %q: %w", i, e.CronSpec, err)
			}
		}
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil
	}
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("schedule: invalid timezone %q: %w", tz, err)
		}
		loc = l
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	now := time.Now()
	for _, e := range s.cfg.Entries {
		entry := e
		if entry.CronSpec != "" {
			if _, err := s.c.AddFunc(entry.CronSpec, func() { s.trigger(entry) }); err != nil {
				return fmt.Errorf("schedule: add %q: %w", entry.CronSpec, err)
			}
			continue
		}
		delay := entry.At.Sub(now)
		if delay < 0 {
			s.log.Warn("calendar entry is in the past, skipping",
				logx.String("session", entry.SessionID), logx.Time("at", entry.At))
			continue
		}
		s.timers = append(s.timers, time.AfterFunc(delay, func() { s.trigger(entry) }))
	}

	s.c.Start()
	s.log.Info("calendar started",
		logx.Int("entries", len(s.cfg.Entries)), logx.String("tz", loc.String()))
	return nil
}

// trigger runs one entry. Triggers that fire while a run is in progress
// are skipped: at most one monitor run at a time.
func (s *Service) trigger(e Entry) {
	s.mu.Lock()
	if s.running || s.runCtx == nil || s.runCtx.Err() != nil {
		skipped := s.running
		s.mu.Unlock()
		if skipped {
			s.log.Warn("trigger skipped, previous run still active",
				logx.String("session", e.SessionID))
		}
		return
	}
	s.running = true
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.log.Info("calendar trigger fired", logx.String("session", e.SessionID))
		s.run(ctx, Run{SessionID: e.SessionID, MaxDuration: e.MaxDuration})
	}()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	timers := s.timers
	s.c = nil
	s.cancel = nil
	s.timers = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	for _, t := range timers {
		t.Stop()
	}
	stopCtx := c.Stop()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
