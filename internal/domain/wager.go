package domain

import (
	"time"
)

// WagerStatus represents the lifecycle of escrowed funds
type WagerStatus string

const (
	WagerStatusActive   WagerStatus = "active"
	WagerStatusSettled  WagerStatus = "settled"
	WagerStatusRefunded WagerStatus = "refunded"
)

// Wager represents funds a participant has moved into escrow for a
// match. A wager exists if and only if the incoming transfer
// succeeded; it is mutated only by settlement or refund and never
// deleted.
type Wager struct {
	MatchID     uint64      `json:"match_id"`
	Participant string      `json:"participant"`
	Amount      int64       `json:"amount"`
	Asset       string      `json:"asset"`
	Status      WagerStatus `json:"status"`
	StakedAt    time.Time   `json:"staked_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Settlement records the single payout of a match. The payout is the
// sum of every escrowed amount for the match: total in equals total
// out, the contract logic itself neither mints nor burns value.
type Settlement struct {
	MatchID   uint64    `json:"match_id"`
	Winner    string    `json:"winner"`
	Payout    int64     `json:"payout"`
	Asset     string    `json:"asset"`
	SettledAt time.Time `json:"settled_at"`
}
