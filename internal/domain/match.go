package domain

import (
	"time"
)

// MatchStatus represents where a match sits in its lifecycle
type MatchStatus string

const (
	MatchStatusPending       MatchStatus = "pending"
	MatchStatusAwaitingStake MatchStatus = "awaiting_stake"
	MatchStatusInProgress    MatchStatus = "in_progress"
	MatchStatusSettled       MatchStatus = "settled"
	MatchStatusCancelled     MatchStatus = "cancelled"
)

// Terminal reports whether the status is a final one
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusSettled || s == MatchStatusCancelled
}

// Match represents a competitive match and its participants.
// Players preserves join order; the creator is always Players[0].
// Matches are never deleted, terminal ones are kept for audit.
type Match struct {
	ID          uint64      `json:"id"`
	GameType    string      `json:"game_type"`
	Players     []string    `json:"players"`
	MaxPlayers  int         `json:"max_players"`
	StakeAmount int64       `json:"stake_amount"`
	Asset       string      `json:"asset"`
	Status      MatchStatus `json:"status"`
	Winner      string      `json:"winner,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// HasPlayer reports whether the account has joined the match
func (m *Match) HasPlayer(account string) bool {
	for _, p := range m.Players {
		if p == account {
			return true
		}
	}
	return false
}

// Full reports whether the match has reached its player capacity
func (m *Match) Full() bool {
	return len(m.Players) >= m.MaxPlayers
}

// Clone returns a copy of the match with its own players slice
func (m *Match) Clone() Match {
	out := *m
	out.Players = append([]string(nil), m.Players...)
	return out
}

// AddPlayer appends a joiner to the match. Only legal while the match
// is still pending; reaching capacity moves the match to
// awaiting_stake, never straight to in_progress — staking gates
// progression, not joining.
func (m *Match) AddPlayer(joiner string) error {
	if m.Status != MatchStatusPending {
		return ErrInvalidMatchStatus
	}
	if m.HasPlayer(joiner) {
		return ErrAlreadyJoined
	}
	if m.Full() {
		return ErrMatchFull
	}
	m.Players = append(m.Players, joiner)
	if m.Full() {
		m.Status = MatchStatusAwaitingStake
	}
	return nil
}

// BeginPlay moves the match from awaiting_stake to in_progress.
// Invoked by the escrow ledger once every participant has staked.
func (m *Match) BeginPlay() error {
	if m.Status != MatchStatusAwaitingStake {
		return ErrInvalidMatchStatus
	}
	m.Status = MatchStatusInProgress
	return nil
}

// Finish moves the match into a terminal status exactly once.
// Settled is only reachable from in_progress; cancelling an
// in_progress match is allowed here but callers must gate it behind
// an administrative authorization check.
func (m *Match) Finish(status MatchStatus, winner string) error {
	if !status.Terminal() {
		return ErrInvalidMatchStatus
	}
	if m.Status.Terminal() {
		return ErrInvalidMatchStatus
	}
	if status == MatchStatusSettled && m.Status != MatchStatusInProgress {
		return ErrInvalidMatchStatus
	}
	m.Status = status
	m.Winner = winner
	return nil
}
