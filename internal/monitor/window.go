package monitor

import "time"

// Window is the span during which polling is active. It is created once
// at monitor start and never mutated.
type Window struct {
	Start       time.Time
	MaxDuration time.Duration
}

// NewWindow clamps maxDuration to a sane ceiling and anchors the window
// at start (now if zero).
func NewWindow(start time.Time, maxDuration time.Duration) Window {
	if start.IsZero() {
		start = time.Now()
	}
	if maxDuration <= 0 {
		maxDuration = 4 * time.Hour
	}
	return Window{Start: start, MaxDuration: maxDuration}
}

// Expired reports whether now is past the window's hard ceiling.
func (w Window) Expired(now time.Time) bool {
	return now.After(w.Start.Add(w.MaxDuration))
}

// Remaining returns how much of the window is left (negative once
// expired).
func (w Window) Remaining(now time.Time) time.Duration {
	return w.Start.Add(w.MaxDuration).Sub(now)
}
