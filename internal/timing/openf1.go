package timing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

const defaultOpenF1BaseURL = "https://api.openf1.org/v1"

// OpenF1Config configures the REST source.
type OpenF1Config struct {
	BaseURL string
	Timeout time.Duration
}

// OpenF1 polls the OpenF1 race_control endpoint.
type OpenF1 struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewOpenF1(cfg OpenF1Config, log logx.Logger) *OpenF1 {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultOpenF1BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenF1{
		base: base,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// raceControlRecord is the wire shape of one OpenF1 race_control row.
type raceControlRecord struct {
	Date         string `json:"date"`
	Category     string `json:"category"`
	Flag         string `json:"flag"`
	Scope        string `json:"scope"`
	Sector       int    `json:"sector"`
	DriverNumber int    `json:"driver_number"`
	LapNumber    int    `json:"lap_number"`
	Message      string `json:"message"`
	SessionKey   int    `json:"session_key"`
	MeetingKey   int    `json:"meeting_key"`
}

func (c *OpenF1) Fetch(ctx context.Context, sessionID string) (Snapshot, error) {
	u := c.base + "/race_control?" + url.Values{"session_key": {sessionID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("timing: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, ClassifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through
	case resp.StatusCode == http.StatusNotFound:
		return Snapshot{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Snapshot{}, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	default:
		return Snapshot{}, fmt.Errorf("%w: unexpected http %d", ErrUnavailable, resp.StatusCode)
	}

	// The endpoint returns the whole session so far; cap reads defensively.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Snapshot{}, ClassifyTransport(err)
	}

	var records []raceControlRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	snap := Snapshot{
		SessionID: sessionID,
		TakenAt:   time.Now().UTC(),
		Events:    make([]Event, 0, len(records)),
	}
	for _, r := range records {
		ev, err := r.toEvent()
		if err != nil {
			c.log.Debug("skipping malformed record", logx.Err(err), logx.String("msg", r.Message))
			continue
		}
		snap.Events = append(snap.Events, ev)
	}
	sort.SliceStable(snap.Events, func(i, j int) bool {
		return snap.Events[i].UTC.Before(snap.Events[j].UTC)
	})
	return snap, nil
}

func (r raceControlRecord) toEvent() (Event, error) {
	if strings.TrimSpace(r.Date) == "" {
		return Event{}, errors.New("record has no date")
	}
	ts, err := parseFeedTime(r.Date)
	if err != nil {
		return Event{}, err
	}
	return Event{
		UTC:          ts,
		Category:     normalizeCategory(r.Category),
		Flag:         Flag(strings.ToUpper(strings.TrimSpace(r.Flag))),
		Scope:        Scope(strings.TrimSpace(r.Scope)),
		Sector:       r.Sector,
		DriverNumber: r.DriverNumber,
		LapNumber:    r.LapNumber,
		Message:      strings.TrimSpace(r.Message),
	}, nil
}

// parseFeedTime accepts the timestamp variants the feed has been seen to
// emit: RFC3339 with or without fractional seconds, and naive UTC.
func parseFeedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func normalizeCategory(s string) Category {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FLAG":
		return CategoryFlag
	case "SAFETYCAR", "SAFETY_CAR", "SAFETY CAR":
		return CategorySafetyCar
	case "DRS":
		return CategoryDrs
	case "INCIDENT":
		return CategoryIncident
	case "TRACK", "TRACK_STATUS":
		return CategoryTrack
	case "WEATHER":
		return CategoryWeather
	case "TECHNICAL":
		return CategoryTechnical
	case "TIMING":
		return CategoryTiming
	case "STEWARDS":
		return CategoryStewards
	case "CAREVENT", "CAR_EVENT":
		return CategoryCarEvent
	default:
		return CategoryOther
	}
}
