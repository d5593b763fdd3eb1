package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a match lifecycle notification
type EventType string

const (
	EventMatchCreated   EventType = "match_created"
	EventPlayerJoined   EventType = "player_joined"
	EventStakePlaced    EventType = "stake_placed"
	EventMatchStarted   EventType = "match_started"
	EventMatchSettled   EventType = "match_settled"
	EventMatchCancelled EventType = "match_cancelled"
	EventWagerRefunded  EventType = "wager_refunded"
)

// Event is a fire-and-forget observability notification. Delivery
// failures never affect match or wager state.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	MatchID   uint64    `json:"match_id"`
	Account   string    `json:"account,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Asset     string    `json:"asset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and timestamp
func NewEvent(t EventType, matchID uint64) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		MatchID:   matchID,
		Timestamp: time.Now(),
	}
}
