package monitor

import (
	"testing"
	"time"
)

func TestWindowDefaults(t *testing.T) {
	t.Parallel()
	w := NewWindow(time.Time{}, 0)
	if w.Start.IsZero() {
		t.Fatal("zero start not anchored to now")
	}
	if w.MaxDuration != 4*time.Hour {
		t.Fatalf("default max duration = %v, want 4h", w.MaxDuration)
	}
}

func TestWindowExpiredAndRemaining(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 16, 5, 0, 0, 0, time.UTC)
	w := NewWindow(start, 2*time.Hour)

	inside := start.Add(90 * time.Minute)
	if w.Expired(inside) {
		t.Fatal("window expired inside its span")
	}
	if got := w.Remaining(inside); got != 30*time.Minute {
		t.Fatalf("Remaining = %v, want 30m", got)
	}

	past := start.Add(3 * time.Hour)
	if !w.Expired(past) {
		t.Fatal("window not expired past its ceiling")
	}
	if got := w.Remaining(past); got != -time.Hour {
		t.Fatalf("Remaining past ceiling = %v, want -1h", got)
	}
}
