package notify

import (
	"calshift/internal/model"
	"calshift/internal/state"
)

// DefaultCap is the per-run notification cap used when Policy.Cap is unset.
const DefaultCap = 10

// Policy bounds how many notifications one run sends.
type Policy struct {
	Cap int
	// MarkOverflowSeen marks events beyond Cap as seen without mailing them.
	// When false they stay unseen and are picked up by later runs.
	MarkOverflowSeen bool
}

// Selection is the outcome of filtering one run's events against the seen-set.
type Selection struct {
	// Deliver holds the first Cap new events in feed order.
	Deliver []model.Event
	// Overflow holds new events beyond the cap, in feed order.
	Overflow []model.Event
	// MarkSeen lists every id to add to the seen-set once the run succeeds.
	MarkSeen []string
	// AlreadySeen counts events skipped because their id was in the seen-set.
	AlreadySeen int
}

// Select partitions events into new and already-notified ones and applies
// the cap. A repeated id within the same feed counts once.
func Select(events []model.Event, seen *state.SeenSet, p Policy) Selection {
	limit := p.Cap
	if limit <= 0 {
		limit = DefaultCap
	}

	var sel Selection
	inRun := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if seen.Has(ev.ID) {
			sel.AlreadySeen++
			continue
		}
		if _, dup := inRun[ev.ID]; dup {
			continue
		}
		inRun[ev.ID] = struct{}{}

		if len(sel.Deliver) < limit {
			sel.Deliver = append(sel.Deliver, ev)
			sel.MarkSeen = append(sel.MarkSeen, ev.ID)
			continue
		}
		sel.Overflow = append(sel.Overflow, ev)
		if p.MarkOverflowSeen {
			sel.MarkSeen = append(sel.MarkSeen, ev.ID)
		}
	}
	return sel
}
