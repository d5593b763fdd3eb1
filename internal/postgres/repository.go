package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
)

// Repository provides the durable mirror of match and wager state.
// The in-memory stores are authoritative at runtime; the repository
// exists for audit history and for reloading open matches after a
// restart.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGINT PRIMARY KEY,
			game_type VARCHAR(64) NOT NULL,
			players JSONB NOT NULL,
			max_players INT NOT NULL,
			stake_amount BIGINT NOT NULL,
			asset VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL,
			winner VARCHAR(64),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wagers (
			match_id BIGINT NOT NULL REFERENCES matches(id),
			participant VARCHAR(64) NOT NULL,
			amount BIGINT NOT NULL,
			asset VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL,
			staked_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (match_id, participant)
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			match_id BIGINT PRIMARY KEY REFERENCES matches(id),
			winner VARCHAR(64) NOT NULL,
			payout BIGINT NOT NULL,
			asset VARCHAR(32) NOT NULL,
			settled_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			match_id BIGINT NOT NULL,
			account VARCHAR(64),
			amount BIGINT,
			asset VARCHAR(32),
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_wagers_status ON wagers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// SaveMatch inserts or updates the durable copy of a match
func (r *Repository) SaveMatch(ctx context.Context, m domain.Match) error {
	players, err := json.Marshal(m.Players)
	if err != nil {
		return fmt.Errorf("marshaling players: %w", err)
	}

	query := `
		INSERT INTO matches (id, game_type, players, max_players, stake_amount, asset, status, winner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET players = $3, status = $7, winner = NULLIF($8, ''), updated_at = $10
	`
	_, err = r.pool.Exec(ctx, query,
		int64(m.ID),
		m.GameType,
		players,
		m.MaxPlayers,
		m.StakeAmount,
		m.Asset,
		string(m.Status),
		m.Winner,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving match: %w", err)
	}
	return nil
}

// SaveWager inserts or updates the durable copy of a wager
func (r *Repository) SaveWager(ctx context.Context, w domain.Wager) error {
	query := `
		INSERT INTO wagers (match_id, participant, amount, asset, status, staked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id, participant)
		DO UPDATE SET status = $5, updated_at = $7
	`
	_, err := r.pool.Exec(ctx, query,
		int64(w.MatchID),
		w.Participant,
		w.Amount,
		w.Asset,
		string(w.Status),
		w.StakedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving wager: %w", err)
	}
	return nil
}

// RecordSettlement records the payout of a match. The primary key on
// match_id backs up the exactly-once guarantee at the audit layer.
func (r *Repository) RecordSettlement(ctx context.Context, s domain.Settlement) error {
	query := `
		INSERT INTO settlements (match_id, winner, payout, asset, settled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		int64(s.MatchID),
		s.Winner,
		s.Payout,
		s.Asset,
		s.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("recording settlement: %w", err)
	}
	return nil
}

// RecordEvent records a match lifecycle event for auditing
func (r *Repository) RecordEvent(ctx context.Context, event domain.Event) error {
	query := `
		INSERT INTO match_events (event_id, event_type, match_id, account, amount, asset, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		string(event.Type),
		int64(event.MatchID),
		event.Account,
		event.Amount,
		event.Asset,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// LoadOpenMatches returns all matches that still need runtime state:
// everything not yet terminal, plus cancelled matches that still hold
// active wagers awaiting refund
func (r *Repository) LoadOpenMatches(ctx context.Context) ([]domain.Match, error) {
	query := `
		SELECT id, game_type, players, max_players, stake_amount, asset, status, COALESCE(winner, ''), created_at, updated_at
		FROM matches
		WHERE status NOT IN ('settled', 'cancelled')
		   OR id IN (SELECT match_id FROM wagers WHERE status = 'active')
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading open matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var m domain.Match
		var id int64
		var players []byte
		err := rows.Scan(
			&id,
			&m.GameType,
			&players,
			&m.MaxPlayers,
			&m.StakeAmount,
			&m.Asset,
			&m.Status,
			&m.Winner,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if err := json.Unmarshal(players, &m.Players); err != nil {
			return nil, fmt.Errorf("unmarshaling players: %w", err)
		}
		m.ID = uint64(id)
		matches = append(matches, m)
	}
	return matches, nil
}

// LoadActiveWagers returns all wagers still holding escrowed funds
func (r *Repository) LoadActiveWagers(ctx context.Context) ([]domain.Wager, error) {
	query := `
		SELECT match_id, participant, amount, asset, status, staked_at, updated_at
		FROM wagers
		WHERE status = 'active'
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading active wagers: %w", err)
	}
	defer rows.Close()

	var wagers []domain.Wager
	for rows.Next() {
		var w domain.Wager
		var matchID int64
		err := rows.Scan(
			&matchID,
			&w.Participant,
			&w.Amount,
			&w.Asset,
			&w.Status,
			&w.StakedAt,
			&w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning wager: %w", err)
		}
		w.MatchID = uint64(matchID)
		wagers = append(wagers, w)
	}
	return wagers, nil
}

// MaxMatchID returns the highest match ID ever allocated, so the
// registry keeps IDs monotonic across restarts
func (r *Repository) MaxMatchID(ctx context.Context) (uint64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM matches`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading max match id: %w", err)
	}
	return uint64(id), nil
}

// GetSettlement returns the settlement record for a match
func (r *Repository) GetSettlement(ctx context.Context, matchID uint64) (*domain.Settlement, error) {
	query := `
		SELECT match_id, winner, payout, asset, settled_at
		FROM settlements
		WHERE match_id = $1
	`
	var s domain.Settlement
	var id int64
	err := r.pool.QueryRow(ctx, query, int64(matchID)).Scan(
		&id,
		&s.Winner,
		&s.Payout,
		&s.Asset,
		&s.SettledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("getting settlement: %w", err)
	}
	s.MatchID = uint64(id)
	return &s, nil
}

// ListEvents returns the audit trail for a match, oldest first
func (r *Repository) ListEvents(ctx context.Context, matchID uint64, limit int) ([]domain.Event, error) {
	query := `
		SELECT event_id, event_type, match_id, COALESCE(account, ''), COALESCE(amount, 0), COALESCE(asset, ''), created_at
		FROM match_events
		WHERE match_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, int64(matchID), limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var id int64
		err := rows.Scan(&ev.ID, &ev.Type, &id, &ev.Account, &ev.Amount, &ev.Asset, &ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.MatchID = uint64(id)
		events = append(events, ev)
	}
	return events, nil
}
