package monitor

import "github.com/TracingInsights-Archive/f1live/internal/timing"

// Announced is the set of event identifiers already handled this
// session. It only grows. The monitor owns it exclusively; there are no
// concurrent writers.
type Announced struct {
	ids map[timing.EventID]struct{}
}

func NewAnnounced() *Announced {
	return &Announced{ids: map[timing.EventID]struct{}{}}
}

// Seed pre-populates the set, typically from the persistence layer after
// a mid-session restart.
func (a *Announced) Seed(ids []timing.EventID) {
	for _, id := range ids {
		a.ids[id] = struct{}{}
	}
}

func (a *Announced) Seen(id timing.EventID) bool {
	_, ok := a.ids[id]
	return ok
}

func (a *Announced) Add(id timing.EventID) {
	a.ids[id] = struct{}{}
}

func (a *Announced) Len() int { return len(a.ids) }
