package timing

import "context"

// Source is the pull interface the monitor polls.
//
// Implementations must classify failures with ErrNotFound,
// ErrUnavailable or ErrTimeout (wrapped, so errors.Is works) and must
// return events in chronological order.
type Source interface {
	// Fetch returns the current view of the session's race control feed.
	Fetch(ctx context.Context, sessionID string) (Snapshot, error)
}
