package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one append-only
// JSON Lines journal of announced records. Sessions are short-lived, so
// the journal is replayed in full at open and never compacted.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	journal *os.File

	// session -> set of announced ids, loaded at open
	announced map[string]map[timing.EventID]struct{}
}

type announcedRecord struct {
	Session string `json:"session"`
	EventID string `json:"event_id"`
	At      string `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	announced := map[string]map[timing.EventID]struct{}{}
	if err := replayJournal(path, announced); err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, journal: jf, announced: announced}, nil
}

func replayJournal(path string, into map[string]map[timing.EventID]struct{}) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec announcedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn tail write after a hard kill; ignore.
			continue
		}
		set := into[rec.Session]
		if set == nil {
			set = map[timing.EventID]struct{}{}
			into[rec.Session] = set
		}
		set[timing.EventID(rec.EventID)] = struct{}{}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) MarkAnnounced(ctx context.Context, sessionID string, id timing.EventID, at time.Time) error {
	_ = ctx
	if id == "" {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("journal closed")
	}

	set := s.announced[sessionID]
	if set == nil {
		set = map[timing.EventID]struct{}{}
		s.announced[sessionID] = set
	}
	if _, ok := set[id]; ok {
		return nil
	}
	set[id] = struct{}{}

	enc := json.NewEncoder(s.journal)
	return enc.Encode(announcedRecord{
		Session: sessionID,
		EventID: string(id),
		At:      at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *fileStore) LoadAnnounced(ctx context.Context, sessionID string) ([]timing.EventID, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.announced[sessionID]
	out := make([]timing.EventID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}
