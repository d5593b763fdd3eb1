package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/oracle"
	"github.com/match-escrow/internal/registry"
	"github.com/match-escrow/internal/settlement"
)

// SweepWorker drives the administrative paths on a timer: stalled
// pending matches are cancelled and refunded, and in_progress matches
// with a stored oracle result are retried for settlement after an
// earlier gateway failure
type SweepWorker struct {
	registry    *registry.Registry
	coordinator *settlement.Coordinator
	results     *oracle.Store
	config      *config.SweepConfig
	actor       string
	logger      *slog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewSweepWorker creates a sweep worker. actor is the system account
// the worker cancels and settles on behalf of; it must be on the
// coordinator's allow list for settlement retries to pass
// authorization.
func NewSweepWorker(
	reg *registry.Registry,
	coordinator *settlement.Coordinator,
	results *oracle.Store,
	cfg *config.SweepConfig,
	actor string,
	logger *slog.Logger,
) *SweepWorker {
	return &SweepWorker{
		registry:    reg,
		coordinator: coordinator,
		results:     results,
		config:      cfg,
		actor:       actor,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background sweep process
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sweep worker started", "interval", w.config.Interval, "max_pending_age", w.config.MaxPendingAge)

	go w.run(ctx)
	return nil
}

// Stop stops the background sweep process
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sweep worker stopped")
	return nil
}

// run is the main worker loop
func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs a single sweep cycle
func (w *SweepWorker) sweep(ctx context.Context) {
	startTime := time.Now()
	cancelled := w.cancelStalled(ctx)
	settled := w.retrySettlements(ctx)

	w.logger.Info("sweep cycle completed",
		"duration", time.Since(startTime),
		"cancelled", cancelled,
		"settled", settled,
	)
}

// cancelStalled cancels and refunds matches stuck before staking
// completed for longer than the configured age
func (w *SweepWorker) cancelStalled(ctx context.Context) int {
	cutoff := time.Now().Add(-w.config.MaxPendingAge)
	count := 0

	stalled := w.registry.ListByStatus(domain.MatchStatusPending, domain.MatchStatusAwaitingStake)
	for _, m := range stalled {
		if m.UpdatedAt.After(cutoff) {
			continue
		}
		if err := w.coordinator.Cancel(ctx, m.ID, w.actor); err != nil {
			w.logger.Warn("failed to cancel stalled match", "match_id", m.ID, "error", err)
			continue
		}
		w.logger.Info("cancelled stalled match", "match_id", m.ID, "status", m.Status, "age", time.Since(m.CreatedAt))
		count++
	}
	return count
}

// retrySettlements re-attempts settlement for in_progress matches
// whose oracle result is already known. This resumes settlements that
// failed on a gateway outage.
func (w *SweepWorker) retrySettlements(ctx context.Context) int {
	count := 0

	for _, m := range w.registry.ListByStatus(domain.MatchStatusInProgress) {
		if _, ok, _ := w.results.Resolve(ctx, m.ID); !ok {
			continue
		}
		if _, err := w.coordinator.Settle(ctx, m.ID, w.actor); err != nil {
			if domain.IsRetryable(err) {
				w.logger.Warn("settlement retry deferred", "match_id", m.ID, "error", err)
			} else {
				w.logger.Error("settlement retry rejected", "match_id", m.ID, "error", err)
			}
			continue
		}
		count++
	}
	return count
}

// IsRunning returns whether the worker is currently running
func (w *SweepWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sweep cycle (useful for manual triggers)
func (w *SweepWorker) RunOnce(ctx context.Context) {
	w.sweep(ctx)
}
