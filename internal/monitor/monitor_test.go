package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/notify"
	"github.com/TracingInsights-Archive/f1live/internal/timing"
)

// scriptedSource returns queued results, repeating the last one forever.
type scriptedSource struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	snap timing.Snapshot
	err  error
}

func (s *scriptedSource) Fetch(_ context.Context, sessionID string) (timing.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return timing.Snapshot{SessionID: sessionID}, nil
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r.snap, r.err
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingDispatcher records dispatch order and can fail chosen events.
type recordingDispatcher struct {
	mu   sync.Mutex
	ids  []timing.EventID
	fail map[timing.EventID]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id timing.EventID, _ []message.Part) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	if d.fail != nil {
		if err, ok := d.fail[id]; ok {
			return err
		}
	}
	return nil
}

func (d *recordingDispatcher) dispatched() []timing.EventID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]timing.EventID(nil), d.ids...)
}

func event(offset time.Duration, msg string) timing.Event {
	return timing.Event{
		UTC:      time.Date(2025, 3, 16, 5, 0, 0, 0, time.UTC).Add(offset),
		Category: timing.CategoryTiming,
		Message:  msg,
	}
}

func snapshot(events ...timing.Event) timing.Snapshot {
	return timing.Snapshot{SessionID: "9999", TakenAt: time.Now(), Events: events}
}

func newTestMonitor(t *testing.T, cfg Config, deps Deps) *Monitor {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "9999"
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = &recordingDispatcher{}
	}
	if deps.Source == nil {
		deps.Source = &scriptedSource{}
	}
	m, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewRequiresSessionID(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, Deps{Source: &scriptedSource{}, Dispatcher: &recordingDispatcher{}})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
}

func TestDetectNewSkipsAnnounced(t *testing.T) {
	t.Parallel()
	a := event(0, "msg a")
	b := event(time.Second, "msg b")
	m := newTestMonitor(t, Config{}, Deps{})
	m.announced.Add(a.ID())

	fresh := m.detectNew(snapshot(a, b))
	if len(fresh) != 1 || fresh[0].ID() != b.ID() {
		t.Fatalf("fresh = %v, want only %q", fresh, b.ID())
	}
}

func TestDetectNewIdempotent(t *testing.T) {
	t.Parallel()
	snap := snapshot(event(0, "msg a"), event(time.Second, "msg b"))
	m := newTestMonitor(t, Config{}, Deps{})

	first := m.detectNew(snap)
	if len(first) != 2 {
		t.Fatalf("first delta = %d events, want 2", len(first))
	}
	for _, ev := range first {
		m.announced.Add(ev.ID())
	}
	if second := m.detectNew(snap); len(second) != 0 {
		t.Fatalf("second delta = %v, want empty", second)
	}
}

func TestDetectNewDropsRepeatedRows(t *testing.T) {
	t.Parallel()
	ev := event(0, "duplicated row")
	m := newTestMonitor(t, Config{}, Deps{})

	fresh := m.detectNew(snapshot(ev, ev, ev))
	if len(fresh) != 1 || fresh[0].ID() != ev.ID() {
		t.Fatalf("fresh = %v, want %q once", fresh, ev.ID())
	}
}

func TestRunRepeatedRowPostedOnce(t *testing.T) {
	t.Parallel()
	ev := event(0, "duplicated row")
	src := &scriptedSource{results: []fetchResult{
		{snap: snapshot(ev, ev)},
	}}
	disp := &recordingDispatcher{}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: 100 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ids := disp.dispatched(); len(ids) != 1 || ids[0] != ev.ID() {
		t.Fatalf("repeated feed row dispatched %d times: %v", len(ids), ids)
	}
}

func TestDetectNewChronological(t *testing.T) {
	t.Parallel()
	later := event(time.Minute, "later")
	earlier := event(0, "earlier")
	m := newTestMonitor(t, Config{}, Deps{})

	fresh := m.detectNew(snapshot(later, earlier))
	if len(fresh) != 2 || !fresh[0].UTC.Before(fresh[1].UTC) {
		t.Fatalf("delta not chronological: %v", fresh)
	}
}

func TestRunExitsWhenWindowExpired(t *testing.T) {
	t.Parallel()
	src := &scriptedSource{}
	start := time.Now().Add(-2 * time.Hour)
	m := newTestMonitor(t, Config{
		Window: Window{Start: start, MaxDuration: time.Hour},
	}, Deps{Source: src})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if src.callCount() != 0 {
		t.Fatalf("expired window must not poll, got %d fetches", src.callCount())
	}
}

func TestRunScenarioFastestLap(t *testing.T) {
	t.Parallel()
	fastest := timing.Event{
		UTC:          time.Date(2025, 3, 16, 5, 12, 0, 0, time.UTC),
		Category:     timing.CategoryTiming,
		DriverNumber: 44,
		LapNumber:    12,
		Message:      "FASTEST LAP BY CAR 44 (HAM): 1:31.447",
	}
	src := &scriptedSource{results: []fetchResult{
		{snap: snapshot(fastest)},
		{snap: snapshot(fastest)}, // repeated observation, must not re-post
	}}
	disp := &recordingDispatcher{}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: 100 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	ids := disp.dispatched()
	if len(ids) != 1 || ids[0] != fastest.ID() {
		t.Fatalf("dispatched = %v, want exactly one %q", ids, fastest.ID())
	}
	if !m.announced.Seen(fastest.ID()) {
		t.Fatal("event id not recorded in announced set")
	}
}

func TestRunOutageThenRecovery(t *testing.T) {
	t.Parallel()
	before := event(0, "before outage")
	after := event(time.Minute, "after outage")
	src := &scriptedSource{results: []fetchResult{
		{snap: snapshot(before)},
		{err: timing.ErrUnavailable},
		{err: timing.ErrUnavailable},
		{err: timing.ErrUnavailable},
		{snap: snapshot(before, after)},
	}}
	disp := &recordingDispatcher{}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: 200 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	ids := disp.dispatched()
	if len(ids) != 2 {
		t.Fatalf("dispatched = %v, want before+after exactly once each", ids)
	}
	if ids[0] != before.ID() || ids[1] != after.ID() {
		t.Fatalf("dispatch order = %v", ids)
	}
}

func TestRunDroppedNotificationNotReattempted(t *testing.T) {
	t.Parallel()
	ev := event(0, "will be dropped")
	src := &scriptedSource{results: []fetchResult{{snap: snapshot(ev)}}}
	disp := &recordingDispatcher{fail: map[timing.EventID]error{
		ev.ID(): notify.ErrDropped,
	}}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: 100 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ids := disp.dispatched(); len(ids) != 1 {
		t.Fatalf("dropped event re-attempted: %v", ids)
	}
	if !m.announced.Seen(ev.ID()) {
		t.Fatal("dropped event must still be marked announced")
	}
}

func TestRunStopsOnChequered(t *testing.T) {
	t.Parallel()
	chequered := timing.Event{
		UTC:      time.Date(2025, 3, 16, 7, 0, 0, 0, time.UTC),
		Category: timing.CategoryFlag,
		Flag:     timing.FlagChequered,
		Message:  "CHEQUERED FLAG",
	}
	src := &scriptedSource{results: []fetchResult{{snap: snapshot(chequered)}}}
	m := newTestMonitor(t, Config{
		Interval:        5 * time.Millisecond,
		Window:          Window{Start: time.Now(), MaxDuration: time.Hour},
		StopOnChequered: true,
	}, Deps{Source: src})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after chequered flag")
	}
}

func TestRunFetchRetryBudgetSkipsCycle(t *testing.T) {
	t.Parallel()
	ev := event(0, "eventually seen")
	src := &scriptedSource{results: []fetchResult{
		{err: timing.ErrTimeout},
		{err: timing.ErrTimeout},
		{snap: snapshot(ev)},
	}}
	disp := &recordingDispatcher{}
	m := newTestMonitor(t, Config{
		Interval:       5 * time.Millisecond,
		FetchRetryMax:  1,
		FetchRetryBase: time.Millisecond,
		Window:         Window{Start: time.Now(), MaxDuration: 150 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ids := disp.dispatched(); len(ids) != 1 || ids[0] != ev.ID() {
		t.Fatalf("dispatched = %v, want %q once", ids, ev.ID())
	}
}

func TestRunHonorsEndSignal(t *testing.T) {
	t.Parallel()
	end := make(chan struct{})
	close(end)
	src := &scriptedSource{}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: time.Hour},
	}, Deps{Source: src, EndSignal: end})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored the end signal")
	}
}

func TestRunSeedsAnnouncedFromStore(t *testing.T) {
	t.Parallel()
	ev := event(0, "already posted last run")
	st := &fakeStore{announced: map[string][]timing.EventID{
		"9999": {ev.ID()},
	}}
	src := &scriptedSource{results: []fetchResult{{snap: snapshot(ev)}}}
	disp := &recordingDispatcher{}
	m := newTestMonitor(t, Config{
		Interval: 5 * time.Millisecond,
		Window:   Window{Start: time.Now(), MaxDuration: 50 * time.Millisecond},
	}, Deps{Source: src, Dispatcher: disp, Store: st})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ids := disp.dispatched(); len(ids) != 0 {
		t.Fatalf("restart re-posted persisted events: %v", ids)
	}
}

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu        sync.Mutex
	announced map[string][]timing.EventID
}

func (f *fakeStore) MarkAnnounced(_ context.Context, sessionID string, id timing.EventID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.announced == nil {
		f.announced = map[string][]timing.EventID{}
	}
	f.announced[sessionID] = append(f.announced[sessionID], id)
	return nil
}

func (f *fakeStore) LoadAnnounced(_ context.Context, sessionID string) ([]timing.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]timing.EventID(nil), f.announced[sessionID]...), nil
}

func (f *fakeStore) Close() error { return nil }
