package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-escrow/internal/domain"
)

func newTestRegistry() *Registry {
	return New(Limits{}, nil, nil, slog.Default())
}

func TestCreate(t *testing.T) {
	r := newTestRegistry()

	m, err := r.Create(context.Background(), "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, []string{"alice"}, m.Players)
	assert.Equal(t, 2, m.MaxPlayers)
	assert.Equal(t, int64(100), m.StakeAmount)
	assert.Equal(t, domain.MatchStatusPending, m.Status)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Create(ctx, "", "connect4", "coin", 100, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Create(ctx, "alice", "", "coin", 100, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Create(ctx, "alice", "connect4", "coin", 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStake)

	_, err = r.Create(ctx, "alice", "connect4", "coin", -5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidStake)

	_, err = r.Create(ctx, "alice", "connect4", "coin", 100, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Create(ctx, "alice", "connect4", "coin", 100, 17)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCreateMonotonicIDs(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		m, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
		require.NoError(t, err)
		assert.Equal(t, want, m.ID)
	}
}

func TestJoin(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)

	m, err := r.Join(ctx, created.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, m.Players)
	assert.Equal(t, domain.MatchStatusAwaitingStake, m.Status)
}

func TestJoinErrors(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)

	_, err = r.Join(ctx, 999, "bob")
	assert.ErrorIs(t, err, domain.ErrMatchNotFound)

	_, err = r.Join(ctx, created.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = r.Join(ctx, created.ID, "bob")
	require.NoError(t, err)

	// Match is at capacity and no longer pending
	_, err = r.Join(ctx, created.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrInvalidMatchStatus)
}

func TestConcurrentJoinOneWinner(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)

	const contenders = 16
	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		joiner := string(rune('b' + i))
		go func() {
			defer wg.Done()
			if _, err := r.Join(ctx, created.ID, joiner); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one contender fills the last slot
	assert.Equal(t, int64(1), successes.Load())

	m, err := r.Get(created.ID)
	require.NoError(t, err)
	assert.Len(t, m.Players, 2)
	assert.Equal(t, domain.MatchStatusAwaitingStake, m.Status)
}

func TestUpdateFailureLeavesMatchUntouched(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)

	_, err = r.Update(ctx, created.ID, func(m *domain.Match) error {
		m.Players = append(m.Players, "mallory")
		m.Status = domain.MatchStatusInProgress
		return domain.ErrInvalidRequest
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	m, err := r.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, m.Players)
	assert.Equal(t, domain.MatchStatusPending, m.Status)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	created, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)
	_, err = r.Join(ctx, created.ID, "bob")
	require.NoError(t, err)
	_, err = r.MarkInProgress(ctx, created.ID)
	require.NoError(t, err)

	m, err := r.Finalize(ctx, created.ID, domain.MatchStatusSettled, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusSettled, m.Status)
	assert.Equal(t, "bob", m.Winner)

	_, err = r.Finalize(ctx, created.ID, domain.MatchStatusSettled, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidMatchStatus)

	_, err = r.Finalize(ctx, created.ID, domain.MatchStatusCancelled, "")
	assert.ErrorIs(t, err, domain.ErrInvalidMatchStatus)
}

func TestGetNotFound(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Get(42)
	assert.ErrorIs(t, err, domain.ErrMatchNotFound)
}

func TestListOrdered(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
		require.NoError(t, err)
	}

	matches := r.List()
	require.Len(t, matches, 3)
	for i, m := range matches {
		assert.Equal(t, uint64(i+1), m.ID)
	}
}

func TestListByStatus(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	first, err := r.Create(ctx, "alice", "connect4", "coin", 100, 0)
	require.NoError(t, err)
	_, err = r.Create(ctx, "carol", "chess", "coin", 50, 0)
	require.NoError(t, err)

	_, err = r.Join(ctx, first.ID, "bob")
	require.NoError(t, err)

	pending := r.ListByStatus(domain.MatchStatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "chess", pending[0].GameType)

	open := r.ListByStatus(domain.MatchStatusPending, domain.MatchStatusAwaitingStake)
	assert.Len(t, open, 2)
}

func TestRestoreKeepsIDsMonotonic(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	restored := domain.Match{
		ID:          3,
		GameType:    "connect4",
		Players:     []string{"alice", "bob"},
		MaxPlayers:  2,
		StakeAmount: 100,
		Asset:       "coin",
		Status:      domain.MatchStatusInProgress,
	}
	// IDs 4..7 were allocated before the restart even though their
	// matches are already terminal and not reloaded
	r.Restore([]domain.Match{restored}, 7)

	m, err := r.Get(3)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusInProgress, m.Status)

	created, err := r.Create(ctx, "carol", "chess", "coin", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), created.ID)
}
