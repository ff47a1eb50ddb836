// Package monitor drives the poll-detect-notify cycle for one live
// session.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/observability/metrics"
	"github.com/TracingInsights-Archive/f1live/internal/storage"
	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// ErrConfig marks fatal pre-loop configuration problems. The process
// exits 1 on it; every other failure is absorbed by the loop.
var ErrConfig = errors.New("monitor: invalid configuration")

// Dispatcher is what the monitor needs from the notification pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, id timing.EventID, parts []message.Part) error
}

// Config carries the per-session knobs.
type Config struct {
	SessionID string
	// Interval is the polling cadence. Defaults to 5s.
	Interval time.Duration
	// Window bounds the run. Zero Start means "now"; zero MaxDuration
	// defaults to 4h.
	Window Window
	// FetchRetryMax is the in-cycle retry budget for transient fetch
	// failures. After it is spent the cycle is skipped, not aborted.
	FetchRetryMax int
	// FetchRetryBase seeds the in-cycle fetch backoff. Defaults to 1s.
	FetchRetryBase time.Duration
	// StopOnChequered ends the run once a chequered-flag event has been
	// announced (the session is over; nothing more will arrive).
	StopOnChequered bool
	// Message controls notification rendering.
	Message message.Config
}

// Deps are the monitor's collaborators. Store and Metrics may be nil.
type Deps struct {
	Source     timing.Source
	Dispatcher Dispatcher
	Store      storage.Store
	Log        logx.Logger
	Metrics    *metrics.Set

	// EndSignal, when non-nil, ends the run early (e.g. operator stop).
	EndSignal <-chan struct{}

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// Monitor owns the announced set and the loop's timing state.
type Monitor struct {
	cfg  Config
	deps Deps

	announced *Announced
	endSeen   bool
}

func New(cfg Config, deps Deps) (*Monitor, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrConfig)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("%w: timing source is required", ErrConfig)
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", ErrConfig)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FetchRetryMax < 0 {
		cfg.FetchRetryMax = 0
	}
	if cfg.FetchRetryBase <= 0 {
		cfg.FetchRetryBase = time.Second
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	cfg.Window = NewWindow(cfg.Window.Start, cfg.Window.MaxDuration)

	m := &Monitor{cfg: cfg, deps: deps, announced: NewAnnounced()}
	if deps.Store != nil {
		ids, err := deps.Store.LoadAnnounced(context.Background(), cfg.SessionID)
		if err != nil {
			deps.Log.Warn("could not seed announced set from store", logx.Err(err))
		} else if len(ids) > 0 {
			m.announced.Seed(ids)
			deps.Log.Info("announced set seeded from store", logx.Int("events", len(ids)))
		}
	}
	return m, nil
}

// Run drives cycles until the window expires, the end signal fires, the
// session finishes (chequered flag, when configured) or ctx is
// cancelled. Collaborator errors never escape: a failed cycle is logged
// and the loop continues at the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	log := m.deps.Log
	log.Info("monitor started",
		logx.String("session", m.cfg.SessionID),
		logx.Duration("interval", m.cfg.Interval),
		logx.Time("window_start", m.cfg.Window.Start),
		logx.Duration("window_remaining", m.cfg.Window.Remaining(m.deps.now())))

	for {
		now := m.deps.now()
		if m.cfg.Window.Expired(now) {
			log.Info("session window elapsed", logx.Int("announced", m.announced.Len()))
			return nil
		}
		if m.endSeen {
			log.Info("session ended (chequered flag)", logx.Int("announced", m.announced.Len()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if m.deps.EndSignal != nil {
			select {
			case <-m.deps.EndSignal:
				log.Info("end signal received", logx.Int("announced", m.announced.Len()))
				return nil
			default:
			}
		}

		cycleStart := m.deps.now()
		m.cycle(ctx)
		elapsed := m.deps.now().Sub(cycleStart)
		m.deps.Metrics.ObserveCycle(elapsed)

		// Sleep the remainder of the interval so source latency does not
		// compound drift.
		pause := m.cfg.Interval - elapsed
		if pause < 0 {
			pause = 0
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

// cycle runs one poll-detect-notify pass. It never returns an error;
// availability is favored over completeness.
func (m *Monitor) cycle(ctx context.Context) {
	m.deps.Metrics.IncPoll()

	snap, ok := m.poll(ctx)
	if !ok {
		return
	}

	fresh := m.detectNew(snap)
	if len(fresh) == 0 {
		return
	}
	m.deps.Metrics.AddDetected(len(fresh))
	m.deps.Log.Info("new events detected", logx.Int("count", len(fresh)))

	m.notify(ctx, fresh)
}

// poll fetches a snapshot, retrying transient failures with bounded
// backoff. A false return means the cycle is skipped.
func (m *Monitor) poll(ctx context.Context) (timing.Snapshot, bool) {
	var lastErr error
	attempts := 1 + m.cfg.FetchRetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		snap, err := m.deps.Source.Fetch(ctx, m.cfg.SessionID)
		if err == nil {
			return snap, true
		}
		lastErr = err
		m.deps.Metrics.IncFetchError(fetchClass(err))
		if ctx.Err() != nil {
			return timing.Snapshot{}, false
		}

		if attempt >= attempts {
			break
		}
		delay := m.cfg.FetchRetryBase << (attempt - 1)
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		m.deps.Log.Debug("fetch failed, retrying",
			logx.Int("attempt", attempt), logx.Duration("backoff", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return timing.Snapshot{}, false
		case <-t.C:
		}
	}

	m.deps.Log.Warn("poll skipped after retry budget",
		logx.Int("attempts", attempts), logx.Err(lastErr))
	return timing.Snapshot{}, false
}

// detectNew returns the snapshot's events whose identifiers are not yet
// announced, in chronological order. Snapshots can repeat a row (a
// duplicated feed entry, or a stream buffer refilled across a
// reconnect), so the delta is also deduplicated within the batch. It
// does not mutate the announced set.
func (m *Monitor) detectNew(snap timing.Snapshot) []timing.Event {
	var fresh []timing.Event
	batch := make(map[timing.EventID]struct{}, len(snap.Events))
	for _, ev := range snap.Events {
		id := ev.ID()
		if m.announced.Seen(id) {
			continue
		}
		if _, dup := batch[id]; dup {
			continue
		}
		batch[id] = struct{}{}
		fresh = append(fresh, ev)
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].UTC.Before(fresh[j].UTC)
	})
	return fresh
}

// notify dispatches events one at a time, in order, marking each
// announced as soon as its dispatch completes. A dropped notification is
// also marked: duplicate public posts cost more than a missed one.
func (m *Monitor) notify(ctx context.Context, events []timing.Event) {
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		id := ev.ID()
		if m.announced.Seen(id) {
			continue
		}
		parts := message.Build(m.cfg.Message, ev)

		err := m.deps.Dispatcher.Dispatch(ctx, id, parts)
		if err != nil && errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			m.deps.Log.Error("event not fully delivered",
				logx.String("event", string(id)), logx.Err(err))
		}

		m.announced.Add(id)
		m.persist(ctx, id, ev.UTC)

		if m.cfg.StopOnChequered && ev.Category == timing.CategoryFlag && ev.Flag == timing.FlagChequered {
			m.endSeen = true
		}
	}
}

func (m *Monitor) persist(ctx context.Context, id timing.EventID, at time.Time) {
	if m.deps.Store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.deps.Store.MarkAnnounced(wctx, m.cfg.SessionID, id, at); err != nil {
		m.deps.Log.Warn("could not persist announced event",
			logx.String("event", string(id)), logx.Err(err))
	}
}

func fetchClass(err error) string {
	switch {
	case errors.Is(err, timing.ErrNotFound):
		return "not_found"
	case errors.Is(err, timing.ErrTimeout):
		return "timeout"
	case errors.Is(err, timing.ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
