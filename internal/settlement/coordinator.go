package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/escrow"
	"github.com/match-escrow/internal/notify"
	"github.com/match-escrow/internal/oracle"
	"github.com/match-escrow/internal/registry"
)

// AuditLog mirrors settlement records into durable storage,
// best-effort
type AuditLog interface {
	RecordSettlement(ctx context.Context, s domain.Settlement) error
	RecordEvent(ctx context.Context, event domain.Event) error
}

// Coordinator orchestrates match closure: it validates the oracle
// result, delegates the payout to the escrow ledger and finalizes the
// match, all inside the match's lock so the whole sequence is
// observably atomic. The match is never marked settled before the
// payout transfer has succeeded; a gateway failure leaves the match
// in_progress and every wager active, so settlement can simply be
// retried.
type Coordinator struct {
	registry *registry.Registry
	escrow   *escrow.Ledger
	oracle   oracle.Resolver
	auth     Authorizer
	audit    AuditLog
	notifier notify.Notifier
	logger   *slog.Logger
}

// New creates a settlement coordinator. audit may be nil.
func New(
	reg *registry.Registry,
	ledger *escrow.Ledger,
	resolver oracle.Resolver,
	auth Authorizer,
	audit AuditLog,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Coordinator{
		registry: reg,
		escrow:   ledger,
		oracle:   resolver,
		auth:     auth,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Settle closes an in_progress match using the oracle's authenticated
// result. The resolver account must be authorized; the reported
// winner must be a listed participant. A second Settle on the same
// match fails on the terminal-status guard, never double-pays.
func (c *Coordinator) Settle(ctx context.Context, matchID uint64, resolver string) (domain.Settlement, error) {
	var st domain.Settlement
	_, err := c.registry.Update(ctx, matchID, func(m *domain.Match) error {
		if m.Status != domain.MatchStatusInProgress {
			return domain.ErrInvalidMatchStatus
		}
		if !c.auth.Authorize(resolver) {
			return domain.ErrUnauthorized
		}

		winner, ok, err := c.oracle.Resolve(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrResultUnavailable, err)
		}
		if !ok {
			return domain.ErrResultUnavailable
		}
		if !m.HasPlayer(winner) {
			return domain.ErrInvalidWinner
		}

		settled, err := c.escrow.Settle(ctx, m, winner)
		if err != nil {
			return err
		}
		if err := m.Finish(domain.MatchStatusSettled, winner); err != nil {
			return err
		}
		st = settled
		return nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}

	if c.audit != nil {
		if err := c.audit.RecordSettlement(ctx, st); err != nil {
			c.logger.Warn("failed to record settlement", "match_id", matchID, "error", err)
		}
	}
	c.logger.Info("match settled",
		"match_id", matchID,
		"winner", st.Winner,
		"payout", st.Payout,
		"asset", st.Asset,
		"resolver", resolver,
	)
	return st, nil
}

// Cancel moves a match to cancelled and refunds every active wager.
// Pending and awaiting_stake matches can be cancelled by anyone
// operating the administrative path; cancelling an in_progress match
// is the dispute escape hatch and requires an authorized actor. The
// terminal guard makes cancellation exactly-once, while refunds stay
// retriable via Refund.
func (c *Coordinator) Cancel(ctx context.Context, matchID uint64, actor string) error {
	_, err := c.registry.Update(ctx, matchID, func(m *domain.Match) error {
		if m.Status == domain.MatchStatusInProgress && !c.auth.Authorize(actor) {
			return domain.ErrUnauthorized
		}
		if err := m.Finish(domain.MatchStatusCancelled, ""); err != nil {
			return err
		}
		ev := domain.NewEvent(domain.EventMatchCancelled, matchID)
		ev.Account = actor
		if c.audit != nil {
			if auditErr := c.audit.RecordEvent(ctx, ev); auditErr != nil {
				c.logger.Warn("failed to record event", "type", ev.Type, "match_id", matchID, "error", auditErr)
			}
		}
		c.notifier.Publish(ev)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("match cancelled", "match_id", matchID, "actor", actor)
	return c.escrow.Refund(ctx, matchID)
}

// Refund retries returning escrowed funds for an already-cancelled
// match. Previously refunded wagers are skipped.
func (c *Coordinator) Refund(ctx context.Context, matchID uint64) error {
	return c.escrow.Refund(ctx, matchID)
}
