package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
redis:
  addr: redis:6379
kafka:
  brokers:
    - kafka:9092
  enabled: true
sweep:
  interval: 30s
  max_pending_age: 10m
match:
  escrow_account: house-escrow
  resolvers:
    - oracle-1
    - oracle-2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.MaxPendingAge)
	assert.Equal(t, "house-escrow", cfg.Match.EscrowAccount)
	assert.Equal(t, []string{"oracle-1", "oracle-2"}, cfg.Match.Resolvers)

	// Defaults fill the gaps
	assert.Equal(t, "match-results", cfg.Kafka.ResultsTopic)
	assert.Equal(t, "match-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, 2, cfg.Match.DefaultMaxPlayers)
	assert.Equal(t, "coin", cfg.Match.DefaultAsset)
	assert.Equal(t, "system", cfg.Match.SystemAccount)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-prod:6379")
	path := writeConfig(t, `
redis:
  addr: ${REDIS_ADDR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis-prod:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.MaxPendingAge)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, "escrow", cfg.Match.EscrowAccount)
	assert.Equal(t, 16, cfg.Match.MaxPlayersLimit)
}

func TestConnectionString(t *testing.T) {
	pg := PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "app",
		Password: "secret",
		Database: "escrow",
	}
	assert.Equal(t, "postgres://app:secret@db:5432/escrow?sslmode=disable", pg.ConnectionString())
}
