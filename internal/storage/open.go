package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free journal (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the announced-event persistence API.
type Store interface {
	// MarkAnnounced records that the event was handled for this session.
	MarkAnnounced(ctx context.Context, sessionID string, id timing.EventID, at time.Time) error
	// LoadAnnounced returns every recorded identifier for the session,
	// used to seed the in-memory set at startup.
	LoadAnnounced(ctx context.Context, sessionID string) ([]timing.EventID, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
