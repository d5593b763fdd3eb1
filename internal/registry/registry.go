package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/notify"
)

// AuditLog mirrors match state into durable storage. Mirroring is
// best-effort: a failure is logged and never fails the operation.
type AuditLog interface {
	SaveMatch(ctx context.Context, m domain.Match) error
	RecordEvent(ctx context.Context, event domain.Event) error
}

// Limits bounds match creation parameters
type Limits struct {
	DefaultMaxPlayers int
	MaxPlayersLimit   int
}

// Registry owns match records and their state machine. Every
// state-mutating operation on a given match ID runs under that
// match's lock, so concurrent operations on the same match are
// serialized while distinct matches proceed independently.
type Registry struct {
	mu       sync.RWMutex
	entries  map[uint64]*entry
	nextID   uint64
	limits   Limits
	audit    AuditLog
	notifier notify.Notifier
	logger   *slog.Logger
}

type entry struct {
	mu sync.Mutex
	m  domain.Match
}

// New creates a match registry. audit may be nil when no durable
// mirror is configured.
func New(limits Limits, audit AuditLog, notifier notify.Notifier, logger *slog.Logger) *Registry {
	if limits.DefaultMaxPlayers == 0 {
		limits.DefaultMaxPlayers = 2
	}
	if limits.MaxPlayersLimit == 0 {
		limits.MaxPlayersLimit = 16
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Registry{
		entries:  make(map[uint64]*entry),
		limits:   limits,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// Create allocates a fresh monotonic match ID and inserts a pending
// match with the creator as its first player
func (r *Registry) Create(ctx context.Context, creator, gameType, asset string, stakeAmount int64, maxPlayers int) (domain.Match, error) {
	if creator == "" || gameType == "" || asset == "" {
		return domain.Match{}, domain.ErrInvalidRequest
	}
	if stakeAmount <= 0 {
		return domain.Match{}, domain.ErrInvalidStake
	}
	if maxPlayers == 0 {
		maxPlayers = r.limits.DefaultMaxPlayers
	}
	if maxPlayers < 2 || maxPlayers > r.limits.MaxPlayersLimit {
		return domain.Match{}, domain.ErrInvalidRequest
	}

	now := time.Now()

	r.mu.Lock()
	r.nextID++
	m := domain.Match{
		ID:          r.nextID,
		GameType:    gameType,
		Players:     []string{creator},
		MaxPlayers:  maxPlayers,
		StakeAmount: stakeAmount,
		Asset:       asset,
		Status:      domain.MatchStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.entries[m.ID] = &entry{m: m}
	r.mu.Unlock()

	r.persist(ctx, m)

	ev := domain.NewEvent(domain.EventMatchCreated, m.ID)
	ev.Account = creator
	ev.Amount = stakeAmount
	ev.Asset = asset
	r.emit(ctx, ev)

	return m.Clone(), nil
}

// Update runs fn against the match under the match's lock. fn
// receives a working copy; if it returns an error the stored match is
// left untouched, so a failing operation mutates nothing. The lock is
// held for the full duration of fn, including any gateway transfer
// invoked inside it.
func (r *Registry) Update(ctx context.Context, matchID uint64, fn func(m *domain.Match) error) (domain.Match, error) {
	e, err := r.entry(matchID)
	if err != nil {
		return domain.Match{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.m.Clone()
	if err := fn(&working); err != nil {
		return domain.Match{}, err
	}
	working.UpdatedAt = time.Now()
	e.m = working

	r.persist(ctx, working)
	return working.Clone(), nil
}

// Join appends a joiner to a pending match. Reaching capacity moves
// the match to awaiting_stake.
func (r *Registry) Join(ctx context.Context, matchID uint64, joiner string) (domain.Match, error) {
	if joiner == "" {
		return domain.Match{}, domain.ErrInvalidRequest
	}

	m, err := r.Update(ctx, matchID, func(m *domain.Match) error {
		return m.AddPlayer(joiner)
	})
	if err != nil {
		return domain.Match{}, err
	}

	ev := domain.NewEvent(domain.EventPlayerJoined, matchID)
	ev.Account = joiner
	r.emit(ctx, ev)

	return m, nil
}

// MarkInProgress moves an awaiting_stake match to in_progress. The
// escrow ledger invokes this transition once the last participant has
// staked; it fails for any other status.
func (r *Registry) MarkInProgress(ctx context.Context, matchID uint64) (domain.Match, error) {
	return r.Update(ctx, matchID, func(m *domain.Match) error {
		return m.BeginPlay()
	})
}

// Finalize moves a match into a terminal status. It fails if the
// match is already terminal, which is the exactly-once guard for
// settlement and cancellation.
func (r *Registry) Finalize(ctx context.Context, matchID uint64, status domain.MatchStatus, winner string) (domain.Match, error) {
	return r.Update(ctx, matchID, func(m *domain.Match) error {
		return m.Finish(status, winner)
	})
}

// Get returns a copy of the match
func (r *Registry) Get(matchID uint64) (domain.Match, error) {
	e, err := r.entry(matchID)
	if err != nil {
		return domain.Match{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m.Clone(), nil
}

// List returns copies of all matches ordered by ID
func (r *Registry) List() []domain.Match {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	matches := make([]domain.Match, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		matches = append(matches, e.m.Clone())
		e.mu.Unlock()
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

// ListByStatus returns copies of all matches in any of the given
// statuses, ordered by ID
func (r *Registry) ListByStatus(statuses ...domain.MatchStatus) []domain.Match {
	var out []domain.Match
	for _, m := range r.List() {
		for _, s := range statuses {
			if m.Status == s {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Restore loads matches back into the registry on startup. nextID is
// advanced past the highest ID ever allocated so restarted services
// keep assigning monotonic identifiers.
func (r *Registry) Restore(matches []domain.Match, maxAllocatedID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range matches {
		r.entries[m.ID] = &entry{m: m.Clone()}
		if m.ID > r.nextID {
			r.nextID = m.ID
		}
	}
	if maxAllocatedID > r.nextID {
		r.nextID = maxAllocatedID
	}
}

func (r *Registry) entry(matchID uint64) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	return e, nil
}

func (r *Registry) persist(ctx context.Context, m domain.Match) {
	if r.audit == nil {
		return
	}
	if err := r.audit.SaveMatch(ctx, m); err != nil {
		r.logger.Warn("failed to mirror match", "match_id", m.ID, "error", err)
	}
}

func (r *Registry) emit(ctx context.Context, ev domain.Event) {
	if r.audit != nil {
		if err := r.audit.RecordEvent(ctx, ev); err != nil {
			r.logger.Warn("failed to record event", "type", ev.Type, "match_id", ev.MatchID, "error", err)
		}
	}
	r.notifier.Publish(ev)
}
