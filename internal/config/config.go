package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Match    MatchConfig    `yaml:"match"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration for the ledger
// gateway
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration. ResultsTopic
// carries authenticated match results in, EventsTopic carries match
// lifecycle notifications out.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ResultsTopic string   `yaml:"results_topic"`
	EventsTopic  string   `yaml:"events_topic"`
	GroupID      string   `yaml:"group_id"`
	Enabled      bool     `yaml:"enabled"`
}

// SweepConfig holds the stalled-match sweep worker configuration
type SweepConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxPendingAge time.Duration `yaml:"max_pending_age"`
	Enabled       bool          `yaml:"enabled"`
}

// MatchConfig holds match and escrow configuration
type MatchConfig struct {
	DefaultMaxPlayers int      `yaml:"default_max_players"`
	MaxPlayersLimit   int      `yaml:"max_players_limit"`
	DefaultAsset      string   `yaml:"default_asset"`
	EscrowAccount     string   `yaml:"escrow_account"`
	SystemAccount     string   `yaml:"system_account"`
	Resolvers         []string `yaml:"resolvers"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ResultsTopic == "" {
		c.Kafka.ResultsTopic = "match-results"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "match-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "match-escrow-consumer"
	}

	// Sweep defaults
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 1 * time.Minute
	}
	if c.Sweep.MaxPendingAge == 0 {
		c.Sweep.MaxPendingAge = 30 * time.Minute
	}

	// Match defaults
	if c.Match.DefaultMaxPlayers == 0 {
		c.Match.DefaultMaxPlayers = 2
	}
	if c.Match.MaxPlayersLimit == 0 {
		c.Match.MaxPlayersLimit = 16
	}
	if c.Match.DefaultAsset == "" {
		c.Match.DefaultAsset = "coin"
	}
	if c.Match.EscrowAccount == "" {
		c.Match.EscrowAccount = "escrow"
	}
	if c.Match.SystemAccount == "" {
		c.Match.SystemAccount = "system"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sweep.Enabled = true
	return cfg
}
