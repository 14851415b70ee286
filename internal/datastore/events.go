package datastore

import (
	"context"
	"time"

	"piggysaving/internal/core"
)

type EventKind string

const (
	EventRefreshed          EventKind = "refreshed"
	EventSavingConfirmed    EventKind = "saving_confirmed"
	EventWithdrawalRecorded EventKind = "withdrawal_recorded"
	EventExpandedToggled    EventKind = "expanded_toggled"
)

// Event tells subscribers the model changed. It carries the totals at the
// time of the change; the lists are read back through Snapshot.
type Event struct {
	Kind   EventKind
	Date   string
	Totals core.Totals
	At     time.Time
}

// Publisher forwards events out of process. Failures are logged, never
// returned to the caller of the mutation.
type Publisher interface {
	PublishModelChanged(ctx context.Context, ev Event) error
}

// Subscribe returns a channel that receives an Event after every mutation.
// Delivery never blocks the store: while an event is pending, newer events
// are dropped, so subscribers should re-read state on receipt.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var cancelled bool
	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		delete(s.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (s *Store) notify(ctx context.Context, kind EventKind, date string) {
	ev := Event{Kind: kind, Date: date, Totals: s.Totals(), At: time.Now()}

	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.subMu.Unlock()

	if s.publisher == nil {
		return
	}
	started := s.goBackground(func() {
		if err := s.publisher.PublishModelChanged(context.WithoutCancel(ctx), ev); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish model change", "event", string(kind), "error", err)
		}
	})
	if !started {
		s.logger.DebugContext(ctx, "Store closed, skipping publish", "event", string(kind))
	}
}
