// Package notify delivers formatted notifications to posting sinks,
// preserving chronological order and applying per-sink rate limits and
// bounded retries.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/TracingInsights-Archive/f1live/internal/message"
)

// Post failure classes. Sinks must wrap one of these so the dispatcher
// can pick the right retry policy.
var (
	// ErrAuthFailed means the sink rejected our credentials. Stale
	// credentials won't self-heal within a run, so it is never retried.
	ErrAuthFailed = errors.New("notify: authentication failed")
	// ErrRateLimited means the platform asked us to slow down. Retried
	// after a longer backoff than other transient failures.
	ErrRateLimited = errors.New("notify: rate limited")
	// ErrUnavailable covers network failures and 5xx responses. Retried
	// a bounded number of times, then the notification is dropped.
	ErrUnavailable = errors.New("notify: sink unavailable")
)

// Sink is a write-only posting endpoint. Post publishes the parts as an
// ordered thread (one post replying to the previous).
type Sink interface {
	Name() string
	Post(ctx context.Context, parts []message.Part) error
}

// Policy controls dispatch pacing and retries.
type Policy struct {
	// RatePerSec is the steady posting rate per sink (token bucket,
	// burst = rate). Defaults to 1.
	RatePerSec int
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryBase seeds the exponential backoff. Defaults to 1s.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff. Defaults to 30s.
	RetryMaxDelay time.Duration
	// RateLimitedDelay replaces the computed backoff after a
	// rate-limited response. Defaults to 15s.
	RateLimitedDelay time.Duration
	// PostTimeout bounds a single Post call. Defaults to 30s.
	PostTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.RatePerSec <= 0 {
		p.RatePerSec = 1
	}
	if p.RetryMax < 0 {
		p.RetryMax = 0
	}
	if p.RetryBase <= 0 {
		p.RetryBase = time.Second
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = 30 * time.Second
	}
	if p.RateLimitedDelay <= 0 {
		p.RateLimitedDelay = 15 * time.Second
	}
	if p.PostTimeout <= 0 {
		p.PostTimeout = 30 * time.Second
	}
	return p
}
