package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/gateway"
	"github.com/match-escrow/internal/notify"
	"github.com/match-escrow/internal/registry"
)

// AuditLog mirrors wager state into durable storage, best-effort
type AuditLog interface {
	SaveWager(ctx context.Context, w domain.Wager) error
	RecordEvent(ctx context.Context, event domain.Event) error
}

type wagerKey struct {
	matchID     uint64
	participant string
}

// Ledger owns wager records keyed by (match, participant) and
// enforces the fund-safety invariants: a wager exists only after its
// escrow transfer succeeded, settlement pays out exactly the sum of
// escrowed amounts, and refunds are independently retriable per
// participant. All compound match+wager mutations run inside
// Registry.Update so they serialize with every other operation on the
// same match.
type Ledger struct {
	mu            sync.RWMutex
	wagers        map[wagerKey]*domain.Wager
	registry      *registry.Registry
	gateway       gateway.TransferGateway
	escrowAccount string
	audit         AuditLog
	notifier      notify.Notifier
	logger        *slog.Logger
}

// New creates an escrow ledger. audit may be nil.
func New(
	reg *registry.Registry,
	gw gateway.TransferGateway,
	escrowAccount string,
	audit AuditLog,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Ledger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ledger{
		wagers:        make(map[wagerKey]*domain.Wager),
		registry:      reg,
		gateway:       gw,
		escrowAccount: escrowAccount,
		audit:         audit,
		notifier:      notifier,
		logger:        logger,
	}
}

// Stake moves the match's stake amount from the participant into
// escrow and records an active wager. A failed transfer creates no
// wager. The last outstanding stake moves the match to in_progress.
func (l *Ledger) Stake(ctx context.Context, matchID uint64, participant, asset string) error {
	if participant == "" {
		return domain.ErrInvalidRequest
	}

	_, err := l.registry.Update(ctx, matchID, func(m *domain.Match) error {
		if m.Status != domain.MatchStatusPending && m.Status != domain.MatchStatusAwaitingStake {
			return domain.ErrInvalidMatchStatus
		}
		if !m.HasPlayer(participant) {
			return domain.ErrNotParticipant
		}
		if asset != m.Asset {
			return fmt.Errorf("%w: match is staked in %s", domain.ErrInvalidRequest, m.Asset)
		}
		if l.get(matchID, participant) != nil {
			return domain.ErrDuplicateStake
		}

		if err := l.gateway.Transfer(ctx, participant, l.escrowAccount, asset, m.StakeAmount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
		}

		now := time.Now()
		w := domain.Wager{
			MatchID:     matchID,
			Participant: participant,
			Amount:      m.StakeAmount,
			Asset:       asset,
			Status:      domain.WagerStatusActive,
			StakedAt:    now,
			UpdatedAt:   now,
		}
		l.put(ctx, w)

		ev := domain.NewEvent(domain.EventStakePlaced, matchID)
		ev.Account = participant
		ev.Amount = m.StakeAmount
		ev.Asset = asset
		l.emit(ctx, ev)

		// Staking complete once every joined player holds an active
		// wager and the match is at capacity
		if m.Status == domain.MatchStatusAwaitingStake && l.activeCount(matchID) == len(m.Players) {
			if err := m.BeginPlay(); err != nil {
				return err
			}
			l.emit(ctx, domain.NewEvent(domain.EventMatchStarted, matchID))
		}
		return nil
	})
	return err
}

// Settle pays the sum of all escrowed amounts for the match to the
// winner and marks every wager settled. It must only be invoked by
// the settlement coordinator, inside a Registry.Update for the match;
// m is the coordinator's working copy. A failed payout transfer
// mutates nothing, leaving every wager active for a safe retry.
func (l *Ledger) Settle(ctx context.Context, m *domain.Match, winner string) (domain.Settlement, error) {
	actives := l.activeWagers(m.ID)

	found := false
	var payout int64
	for _, w := range actives {
		payout += w.Amount
		if w.Participant == winner {
			found = true
		}
	}
	if !found {
		return domain.Settlement{}, domain.ErrWagerNotFound
	}

	if err := l.gateway.Transfer(ctx, l.escrowAccount, winner, m.Asset, payout); err != nil {
		return domain.Settlement{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	now := time.Now()
	for _, w := range actives {
		w.Status = domain.WagerStatusSettled
		w.UpdatedAt = now
		l.put(ctx, w)
	}

	st := domain.Settlement{
		MatchID:   m.ID,
		Winner:    winner,
		Payout:    payout,
		Asset:     m.Asset,
		SettledAt: now,
	}

	ev := domain.NewEvent(domain.EventMatchSettled, m.ID)
	ev.Account = winner
	ev.Amount = payout
	ev.Asset = m.Asset
	l.emit(ctx, ev)

	return st, nil
}

// Refund returns each active wager of a cancelled match to its
// participant. Every transfer is independent: one failure does not
// block the others, and calling Refund again retries only the wagers
// still active.
func (l *Ledger) Refund(ctx context.Context, matchID uint64) error {
	var refundErr error
	_, err := l.registry.Update(ctx, matchID, func(m *domain.Match) error {
		if m.Status != domain.MatchStatusCancelled {
			return domain.ErrInvalidMatchStatus
		}

		var errs []error
		for _, w := range l.activeWagers(matchID) {
			if err := l.gateway.Transfer(ctx, l.escrowAccount, w.Participant, w.Asset, w.Amount); err != nil {
				errs = append(errs, fmt.Errorf("refunding %s: %w", w.Participant, err))
				continue
			}
			w.Status = domain.WagerStatusRefunded
			w.UpdatedAt = time.Now()
			l.put(ctx, w)

			ev := domain.NewEvent(domain.EventWagerRefunded, matchID)
			ev.Account = w.Participant
			ev.Amount = w.Amount
			ev.Asset = w.Asset
			l.emit(ctx, ev)
		}
		if len(errs) > 0 {
			refundErr = fmt.Errorf("%w: %w", domain.ErrTransferFailed, errors.Join(errs...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return refundErr
}

// Wager returns a copy of the wager for (match, participant)
func (l *Ledger) Wager(matchID uint64, participant string) (domain.Wager, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wagers[wagerKey{matchID, participant}]
	if !ok {
		return domain.Wager{}, domain.ErrWagerNotFound
	}
	return *w, nil
}

// WagersForMatch returns copies of all wagers for a match, ordered by
// participant
func (l *Ledger) WagersForMatch(matchID uint64) []domain.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Wager
	for k, w := range l.wagers {
		if k.matchID == matchID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

// EscrowedTotal returns the sum of active wager amounts for a match
func (l *Ledger) EscrowedTotal(matchID uint64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for k, w := range l.wagers {
		if k.matchID == matchID && w.Status == domain.WagerStatusActive {
			total += w.Amount
		}
	}
	return total
}

// Restore loads wagers back into the ledger on startup
func (l *Ledger) Restore(wagers []domain.Wager) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range wagers {
		stored := w
		l.wagers[wagerKey{w.MatchID, w.Participant}] = &stored
	}
}

func (l *Ledger) get(matchID uint64, participant string) *domain.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wagers[wagerKey{matchID, participant}]
}

// activeWagers returns copies of the active records; mutations go
// back through put so map entries are only replaced under the lock
func (l *Ledger) activeWagers(matchID uint64) []domain.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Wager
	for k, w := range l.wagers {
		if k.matchID == matchID && w.Status == domain.WagerStatusActive {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

func (l *Ledger) activeCount(matchID uint64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for k, w := range l.wagers {
		if k.matchID == matchID && w.Status == domain.WagerStatusActive {
			count++
		}
	}
	return count
}

func (l *Ledger) put(ctx context.Context, w domain.Wager) {
	l.mu.Lock()
	stored := w
	l.wagers[wagerKey{w.MatchID, w.Participant}] = &stored
	l.mu.Unlock()

	if l.audit != nil {
		if err := l.audit.SaveWager(ctx, w); err != nil {
			l.logger.Warn("failed to mirror wager", "match_id", w.MatchID, "participant", w.Participant, "error", err)
		}
	}
}

func (l *Ledger) emit(ctx context.Context, ev domain.Event) {
	if l.audit != nil {
		if err := l.audit.RecordEvent(ctx, ev); err != nil {
			l.logger.Warn("failed to record event", "type", ev.Type, "match_id", ev.MatchID, "error", err)
		}
	}
	l.notifier.Publish(ev)
}
