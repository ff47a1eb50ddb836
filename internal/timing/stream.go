package timing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// StreamConfig configures the push-feed source.
type StreamConfig struct {
	URL string
	// Topic is the live timing channel to subscribe to.
	// Defaults to "RaceControlMessages".
	Topic string
	// HandshakeTimeout bounds the websocket dial. Defaults to 15s.
	HandshakeTimeout time.Duration
	// ReconnectDelay is the pause before re-dialing after a dropped
	// connection. Defaults to 5s.
	ReconnectDelay time.Duration
	// BufferLimit caps events held between polls. Oldest are dropped
	// when exceeded. Defaults to 1024.
	BufferLimit int
}

// Stream adapts the live timing push feed to the pull-based Source
// interface: a background read loop buffers pushed records, Fetch drains
// the buffer into a Snapshot.
//
// Run must be started (typically under the app supervisor) before Fetch
// returns anything useful; Fetch on a never-connected stream just
// returns an empty snapshot, which the monitor treats as a quiet cycle.
type Stream struct {
	cfg StreamConfig
	log logx.Logger

	mu      sync.Mutex
	pending []Event
	dropped uint64
}

func NewStream(cfg StreamConfig, log logx.Logger) (*Stream, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("timing: stream url is empty")
	}
	if cfg.Topic == "" {
		cfg.Topic = "RaceControlMessages"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 1024
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Stream{cfg: cfg, log: log}, nil
}

// Run dials the feed and keeps reading until ctx is cancelled,
// re-dialing after dropped connections. It only returns ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("stream connection lost", logx.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

type streamFrame struct {
	Topic   string              `json:"topic"`
	Records []raceControlRecord `json:"records"`
}

type streamSubscribe struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func (s *Stream) readOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(streamSubscribe{Action: "subscribe", Topic: s.cfg.Topic}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("stream connected", logx.String("topic", s.cfg.Topic))

	// Close the socket when ctx fires so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame streamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.log.Debug("discarding unparseable frame", logx.Err(err))
			continue
		}
		if frame.Topic != "" && frame.Topic != s.cfg.Topic {
			continue
		}
		s.buffer(frame.Records)
	}
}

func (s *Stream) buffer(records []raceControlRecord) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		ev, err := r.toEvent()
		if err != nil {
			continue
		}
		s.pending = append(s.pending, ev)
	}
	if over := len(s.pending) - s.cfg.BufferLimit; over > 0 {
		s.pending = append([]Event(nil), s.pending[over:]...)
		s.dropped += uint64(over)
		s.log.Warn("stream buffer overflow, oldest events dropped", logx.Int("dropped", over))
	}
}

// Fetch drains buffered events into a snapshot. The stream source never
// fails a poll: a broken connection surfaces as empty snapshots while
// the read loop reconnects.
func (s *Stream) Fetch(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	return Snapshot{
		SessionID: sessionID,
		TakenAt:   time.Now().UTC(),
		Events:    events,
	}, nil
}
