package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "announced.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []timing.EventID{"a|1", "b|2", "c|3"}
	for _, id := range want {
		if err := st.MarkAnnounced(ctx, "9158", id, time.Now()); err != nil {
			t.Fatalf("MarkAnnounced(%q): %v", id, err)
		}
	}
	// Duplicate mark must be a no-op, not an error.
	if err := st.MarkAnnounced(ctx, "9158", want[0], time.Now()); err != nil {
		t.Fatalf("duplicate MarkAnnounced: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and verify the journal replays.
	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.LoadAnnounced(ctx, "9158")
	if err != nil {
		t.Fatalf("LoadAnnounced: %v", err)
	}
	sortIDs(got)
	if len(got) != len(want) {
		t.Fatalf("LoadAnnounced = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LoadAnnounced = %v, want %v", got, want)
		}
	}

	// Sessions are isolated.
	other, err := st.LoadAnnounced(ctx, "1234")
	if err != nil {
		t.Fatalf("LoadAnnounced(other): %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("foreign session leaked ids: %v", other)
	}
}

func TestFileStoreToleratesTornTail(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "announced.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.MarkAnnounced(ctx, "9158", "a|1", time.Now()); err != nil {
		t.Fatalf("MarkAnnounced: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a hard kill mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := f.WriteString(`{"session":"9158","event_`); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	f.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen with torn tail: %v", err)
	}
	defer st.Close()
	got, err := st.LoadAnnounced(ctx, "9158")
	if err != nil {
		t.Fatalf("LoadAnnounced: %v", err)
	}
	if len(got) != 1 || got[0] != "a|1" {
		t.Fatalf("LoadAnnounced = %v, want [a|1]", got)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "f1live.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := st.MarkAnnounced(ctx, "9158", "a|1", time.Now()); err != nil {
		t.Fatalf("MarkAnnounced: %v", err)
	}
	if err := st.MarkAnnounced(ctx, "9158", "b|2", time.Now()); err != nil {
		t.Fatalf("MarkAnnounced: %v", err)
	}
	// ON CONFLICT DO NOTHING: re-marking is fine.
	if err := st.MarkAnnounced(ctx, "9158", "a|1", time.Now()); err != nil {
		t.Fatalf("duplicate MarkAnnounced: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.LoadAnnounced(ctx, "9158")
	if err != nil {
		t.Fatalf("LoadAnnounced: %v", err)
	}
	sortIDs(got)
	if len(got) != 2 || got[0] != "a|1" || got[1] != "b|2" {
		t.Fatalf("LoadAnnounced = %v, want [a|1 b|2]", got)
	}
}

func sortIDs(ids []timing.EventID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
