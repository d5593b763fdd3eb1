package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
	"github.com/redis/go-redis/v9"
)

// transferScript checks the source balance and moves the amount in a
// single atomic step, so a rejected transfer never half-applies.
var transferScript = redis.NewScript(`
local from = KEYS[1]
local to = KEYS[2]
local amount = tonumber(ARGV[1])
local balance = tonumber(redis.call('GET', from) or '0')
if balance < amount then
	return redis.error_reply('insufficient balance')
end
redis.call('DECRBY', from, amount)
redis.call('INCRBY', to, amount)
return balance - amount
`)

// RedisGateway is a Redis-backed transfer gateway. Account balances
// are plain integer keys per (asset, account); transfers run a Lua
// script so the check-and-move is atomic.
type RedisGateway struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisGateway creates a Redis-backed transfer gateway
func NewRedisGateway(cfg *config.RedisConfig, logger *slog.Logger) (*RedisGateway, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisGateway{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (g *RedisGateway) Close() error {
	return g.client.Close()
}

// balanceKey returns the Redis key for an account's balance in an
// asset
func (g *RedisGateway) balanceKey(asset, account string) string {
	return fmt.Sprintf("balance:%s:%s", asset, account)
}

// Transfer implements TransferGateway
func (g *RedisGateway) Transfer(ctx context.Context, from, to, asset string, amount int64) error {
	if from == "" || to == "" || asset == "" || amount <= 0 {
		return domain.ErrInvalidRequest
	}

	ref := uuid.New().String()
	keys := []string{g.balanceKey(asset, from), g.balanceKey(asset, to)}
	if err := transferScript.Run(ctx, g.client, keys, amount).Err(); err != nil {
		g.logger.Warn("transfer rejected",
			"ref", ref,
			"from", from,
			"to", to,
			"asset", asset,
			"amount", amount,
			"error", err,
		)
		return fmt.Errorf("transferring %d %s from %s to %s: %w", amount, asset, from, to, err)
	}

	g.logger.Debug("transfer applied",
		"ref", ref,
		"from", from,
		"to", to,
		"asset", asset,
		"amount", amount,
	)
	return nil
}

// Deposit credits an account balance. Used for provisioning and
// development, not by the escrow core.
func (g *RedisGateway) Deposit(ctx context.Context, account, asset string, amount int64) (int64, error) {
	if account == "" || asset == "" || amount <= 0 {
		return 0, domain.ErrInvalidRequest
	}

	balance, err := g.client.IncrBy(ctx, g.balanceKey(asset, account), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("depositing to %s: %w", account, err)
	}
	return balance, nil
}

// Balance returns an account's balance in an asset
func (g *RedisGateway) Balance(ctx context.Context, account, asset string) (int64, error) {
	balance, err := g.client.Get(ctx, g.balanceKey(asset, account)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("reading balance for %s: %w", account, err)
	}
	return balance, nil
}
