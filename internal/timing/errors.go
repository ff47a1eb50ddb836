package timing

import (
	"context"
	"errors"
	"net"
)

// Fetch failure classes. All are transient from the monitor's point of
// view: the loop skips the cycle and tries again, it never aborts.
var (
	ErrNotFound    = errors.New("timing: session not found")
	ErrUnavailable = errors.New("timing: source unavailable")
	ErrTimeout     = errors.New("timing: fetch timed out")
)

// ClassifyTransport maps low-level transport errors onto the fetch
// taxonomy. HTTP status mapping is done by the individual sources.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrUnavailable, err)
}
