package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/escrow"
	"github.com/match-escrow/internal/oracle"
	"github.com/match-escrow/internal/registry"
	"github.com/match-escrow/internal/settlement"
)

type fakeGateway struct {
	mu       sync.Mutex
	balances map[string]int64
	failing  bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{balances: make(map[string]int64)}
}

func (g *fakeGateway) Transfer(ctx context.Context, from, to, asset string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing {
		return errors.New("gateway unavailable")
	}
	g.balances[from] -= amount
	g.balances[to] += amount
	return nil
}

func (g *fakeGateway) balance(account string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account]
}

type harness struct {
	registry *registry.Registry
	ledger   *escrow.Ledger
	results  *oracle.Store
	gateway  *fakeGateway
	worker   *SweepWorker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.Default()
	reg := registry.New(registry.Limits{}, nil, nil, logger)
	gw := newFakeGateway()
	ledger := escrow.New(reg, gw, "escrow", nil, nil, logger)
	results := oracle.NewStore()
	coordinator := settlement.New(reg, ledger, results, settlement.NewAllowList([]string{"system"}), nil, nil, logger)
	cfg := &config.SweepConfig{Interval: time.Minute, MaxPendingAge: 30 * time.Minute}
	w := NewSweepWorker(reg, coordinator, results, cfg, "system", logger)
	return &harness{registry: reg, ledger: ledger, results: results, gateway: gw, worker: w}
}

func TestSweepCancelsStalledMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	h.registry.Restore([]domain.Match{
		{
			ID: 1, GameType: "connect4", Players: []string{"alice"},
			MaxPlayers: 2, StakeAmount: 100, Asset: "coin",
			Status: domain.MatchStatusPending, CreatedAt: stale, UpdatedAt: stale,
		},
		{
			ID: 2, GameType: "connect4", Players: []string{"alice", "bob"},
			MaxPlayers: 2, StakeAmount: 100, Asset: "coin",
			Status: domain.MatchStatusAwaitingStake, CreatedAt: stale, UpdatedAt: stale,
		},
	}, 2)

	// A fresh match must survive the sweep
	fresh, err := h.registry.Create(ctx, "carol", "chess", "coin", 50, 0)
	require.NoError(t, err)

	h.worker.RunOnce(ctx)

	for _, id := range []uint64{1, 2} {
		m, err := h.registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.MatchStatusCancelled, m.Status, "match %d", id)
	}

	m, err := h.registry.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusPending, m.Status)
}

func TestSweepRefundsStalledStakes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	h.registry.Restore([]domain.Match{{
		ID: 1, GameType: "connect4", Players: []string{"alice", "bob"},
		MaxPlayers: 2, StakeAmount: 100, Asset: "coin",
		Status: domain.MatchStatusAwaitingStake, CreatedAt: stale, UpdatedAt: stale,
	}}, 1)
	h.ledger.Restore([]domain.Wager{
		{MatchID: 1, Participant: "alice", Amount: 100, Asset: "coin", Status: domain.WagerStatusActive},
	})

	h.worker.RunOnce(ctx)

	assert.Equal(t, int64(100), h.gateway.balance("alice"))
	assert.Equal(t, int64(0), h.ledger.EscrowedTotal(1))
}

func TestSweepRetriesDeferredSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registry.Restore([]domain.Match{{
		ID: 1, GameType: "connect4", Players: []string{"alice", "bob"},
		MaxPlayers: 2, StakeAmount: 100, Asset: "coin",
		Status: domain.MatchStatusInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}}, 1)
	h.ledger.Restore([]domain.Wager{
		{MatchID: 1, Participant: "alice", Amount: 100, Asset: "coin", Status: domain.WagerStatusActive},
		{MatchID: 1, Participant: "bob", Amount: 100, Asset: "coin", Status: domain.WagerStatusActive},
	})
	h.results.Record(1, "bob")

	// First cycle hits the gateway outage and defers
	h.gateway.failing = true
	h.worker.RunOnce(ctx)

	m, err := h.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusInProgress, m.Status)

	// Next cycle completes the settlement
	h.gateway.failing = false
	h.worker.RunOnce(ctx)

	m, err = h.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusSettled, m.Status)
	assert.Equal(t, "bob", m.Winner)
	assert.Equal(t, int64(200), h.gateway.balance("bob"))
}

func TestSweepSkipsMatchesWithoutResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registry.Restore([]domain.Match{{
		ID: 1, GameType: "connect4", Players: []string{"alice", "bob"},
		MaxPlayers: 2, StakeAmount: 100, Asset: "coin",
		Status: domain.MatchStatusInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}}, 1)

	h.worker.RunOnce(ctx)

	m, err := h.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusInProgress, m.Status)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.worker.Start(context.Background()))
	assert.True(t, h.worker.IsRunning())

	require.NoError(t, h.worker.Stop())
	assert.False(t, h.worker.IsRunning())
}
