package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingMatch() Match {
	return Match{
		ID:          1,
		GameType:    "connect4",
		Players:     []string{"alice"},
		MaxPlayers:  2,
		StakeAmount: 100,
		Asset:       "coin",
		Status:      MatchStatusPending,
	}
}

func TestAddPlayer(t *testing.T) {
	m := newPendingMatch()

	require.NoError(t, m.AddPlayer("bob"))
	assert.Equal(t, []string{"alice", "bob"}, m.Players)
	assert.Equal(t, MatchStatusAwaitingStake, m.Status)
}

func TestAddPlayerDuplicate(t *testing.T) {
	m := newPendingMatch()

	err := m.AddPlayer("alice")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, MatchStatusPending, m.Status)
}

func TestAddPlayerFull(t *testing.T) {
	m := newPendingMatch()
	m.MaxPlayers = 3

	require.NoError(t, m.AddPlayer("bob"))
	assert.Equal(t, MatchStatusPending, m.Status)

	require.NoError(t, m.AddPlayer("carol"))
	assert.Equal(t, MatchStatusAwaitingStake, m.Status)

	err := m.AddPlayer("dave")
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)
}

func TestAddPlayerAfterPending(t *testing.T) {
	m := newPendingMatch()
	m.Status = MatchStatusInProgress

	err := m.AddPlayer("bob")
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)
}

func TestBeginPlay(t *testing.T) {
	m := newPendingMatch()

	err := m.BeginPlay()
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)

	m.Status = MatchStatusAwaitingStake
	require.NoError(t, m.BeginPlay())
	assert.Equal(t, MatchStatusInProgress, m.Status)
}

func TestFinishSettled(t *testing.T) {
	m := newPendingMatch()
	m.Status = MatchStatusInProgress

	require.NoError(t, m.Finish(MatchStatusSettled, "alice"))
	assert.Equal(t, MatchStatusSettled, m.Status)
	assert.Equal(t, "alice", m.Winner)
}

func TestFinishSettledRequiresInProgress(t *testing.T) {
	for _, status := range []MatchStatus{MatchStatusPending, MatchStatusAwaitingStake} {
		m := newPendingMatch()
		m.Status = status

		err := m.Finish(MatchStatusSettled, "alice")
		assert.ErrorIs(t, err, ErrInvalidMatchStatus, "status %s", status)
	}
}

func TestFinishExactlyOnce(t *testing.T) {
	m := newPendingMatch()
	m.Status = MatchStatusInProgress

	require.NoError(t, m.Finish(MatchStatusSettled, "alice"))

	err := m.Finish(MatchStatusSettled, "bob")
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)
	assert.Equal(t, "alice", m.Winner)

	err = m.Finish(MatchStatusCancelled, "")
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)
}

func TestFinishCancelledFromAnyOpenStatus(t *testing.T) {
	for _, status := range []MatchStatus{MatchStatusPending, MatchStatusAwaitingStake, MatchStatusInProgress} {
		m := newPendingMatch()
		m.Status = status

		require.NoError(t, m.Finish(MatchStatusCancelled, ""), "status %s", status)
		assert.Equal(t, MatchStatusCancelled, m.Status)
	}
}

func TestFinishRejectsNonTerminalTarget(t *testing.T) {
	m := newPendingMatch()
	m.Status = MatchStatusInProgress

	err := m.Finish(MatchStatusInProgress, "")
	assert.ErrorIs(t, err, ErrInvalidMatchStatus)
}

func TestClone(t *testing.T) {
	m := newPendingMatch()
	clone := m.Clone()
	clone.Players[0] = "mallory"

	assert.Equal(t, "alice", m.Players[0])
}

func TestTerminal(t *testing.T) {
	assert.True(t, MatchStatusSettled.Terminal())
	assert.True(t, MatchStatusCancelled.Terminal())
	assert.False(t, MatchStatusPending.Terminal())
	assert.False(t, MatchStatusAwaitingStake.Terminal())
	assert.False(t, MatchStatusInProgress.Terminal())
}
