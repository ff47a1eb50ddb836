package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/TracingInsights-Archive/f1live/internal/message"
	"github.com/TracingInsights-Archive/f1live/internal/observability/metrics"
	"github.com/TracingInsights-Archive/f1live/internal/timing"
	logx "github.com/TracingInsights-Archive/f1live/pkg/logx"
)

// ErrDropped is returned when a notification exhausted its retry budget
// on at least one sink. The event is still considered handled: duplicate
// public posts cost more than a missed one, so dropped notifications are
// never re-attempted in a later cycle.
var ErrDropped = errors.New("notify: notification dropped")

// Dispatcher delivers notifications to every configured sink, strictly
// one at a time, so posts appear in the chronological order of their
// source events.
//
// It is not safe for concurrent use; the monitor's single loop is the
// only caller.
type Dispatcher struct {
	sinks    []Sink
	policy   Policy
	limiters map[string]*rate.Limiter
	log      logx.Logger
	met      *metrics.Set
}

func NewDispatcher(sinks []Sink, policy Policy, log logx.Logger, met *metrics.Set) *Dispatcher {
	policy = policy.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	limiters := make(map[string]*rate.Limiter, len(sinks))
	for _, s := range sinks {
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiters[s.Name()] = rate.NewLimiter(rate.Limit(policy.RatePerSec), policy.RatePerSec)
	}
	return &Dispatcher{
		sinks:    sinks,
		policy:   policy,
		limiters: limiters,
		log:      log,
		met:      met,
	}
}

// Dispatch posts one event's thread to every sink, waiting for each sink
// to finish (or give up) before returning. A nil error means all sinks
// accepted the post; ErrDropped means at least one gave up. Either way
// the caller should mark the event announced.
func (d *Dispatcher) Dispatch(ctx context.Context, id timing.EventID, parts []message.Part) error {
	if len(parts) == 0 {
		return nil
	}

	var dropped bool
	for _, sink := range d.sinks {
		if err := d.deliver(ctx, sink, id, parts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dropped = true
			d.met.IncDropped(sink.Name())
			d.log.Error("notification dropped",
				logx.String("sink", sink.Name()),
				logx.String("event", string(id)),
				logx.Err(err))
			continue
		}
		d.met.IncSent(sink.Name())
	}
	if dropped {
		return fmt.Errorf("%w: event %s", ErrDropped, id)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, id timing.EventID, parts []message.Part) error {
	maxAttempts := 1 + d.policy.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim := d.limiters[sink.Name()]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.policy.PostTimeout)
		err := sink.Post(callCtx, parts)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		// Stale credentials won't self-heal within a run.
		if errors.Is(err, ErrAuthFailed) {
			return err
		}

		d.log.Warn("post failed",
			logx.String("sink", sink.Name()),
			logx.String("event", string(id)),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(d.policy.RetryBase, d.policy.RetryMaxDelay, attempt)
		if errors.Is(err, ErrRateLimited) && delay < d.policy.RateLimitedDelay {
			delay = d.policy.RateLimitedDelay
		}

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		}
	}
	return lastErr
}
