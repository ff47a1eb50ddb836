package timing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

func TestOpenF1FetchParsesAndOrders(t *testing.T) {
	t.Parallel()
	// Out of order on the wire; Fetch must sort chronologically.
	body := `[
		{"date":"2025-03-16T05:10:00+00:00","category":"SafetyCar","message":"SAFETY CAR DEPLOYED","session_key":9999},
		{"date":"2025-03-16T05:04:03","category":"Flag","flag":"YELLOW","scope":"Sector","sector":7,"message":"YELLOW IN TRACK SECTOR 7","session_key":9999}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("session_key"); got != "9999" {
			t.Errorf("session_key = %q, want 9999", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewOpenF1(OpenF1Config{BaseURL: srv.URL}, logx.Nop())
	snap, err := c.Fetch(context.Background(), "9999")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(snap.Events))
	}
	if snap.Events[0].Category != CategoryFlag {
		t.Fatalf("events not in chronological order: first is %s", snap.Events[0].Category)
	}
	if snap.Events[0].Flag != FlagYellow || snap.Events[0].Sector != 7 {
		t.Fatalf("flag event not mapped: %+v", snap.Events[0])
	}
	if !snap.Events[0].UTC.Equal(time.Date(2025, 3, 16, 5, 4, 3, 0, time.UTC)) {
		t.Fatalf("naive timestamp not parsed as UTC: %v", snap.Events[0].UTC)
	}
}

func TestOpenF1FetchErrorClasses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"throttled", http.StatusTooManyRequests, ErrUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewOpenF1(OpenF1Config{BaseURL: srv.URL}, logx.Nop())
			_, err := c.Fetch(context.Background(), "latest")
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenF1FetchTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewOpenF1(OpenF1Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	_, err := c.Fetch(context.Background(), "latest")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestOpenF1SkipsMalformedRecords(t *testing.T) {
	t.Parallel()
	body := `[
		{"category":"Flag","message":"no date"},
		{"date":"2025-03-16T05:04:03","category":"Track","message":"TRACK CLEAR"}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewOpenF1(OpenF1Config{BaseURL: srv.URL}, logx.Nop())
	snap, err := c.Fetch(context.Background(), "latest")
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(snap.Events) != 1 || snap.Events[0].Message != "TRACK CLEAR" {
		t.Fatalf("malformed record not skipped: %+v", snap.Events)
	}
}
