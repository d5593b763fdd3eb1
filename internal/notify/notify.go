package notify

import (
	"github.com/match-escrow/internal/domain"
)

// Notifier is a fire-and-forget sink for match lifecycle events.
// Implementations must never block the caller and must swallow their
// own delivery failures; core state is already committed by the time
// an event is published.
type Notifier interface {
	Publish(event domain.Event)
}

// Nop discards every event
type Nop struct{}

// Publish implements Notifier
func (Nop) Publish(domain.Event) {}

// Fanout publishes each event to every wrapped notifier
type Fanout []Notifier

// Publish implements Notifier
func (f Fanout) Publish(event domain.Event) {
	for _, n := range f {
		n.Publish(event)
	}
}
