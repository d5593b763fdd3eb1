package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/escrow"
	"github.com/match-escrow/internal/gateway"
	"github.com/match-escrow/internal/handler"
	"github.com/match-escrow/internal/kafka"
	"github.com/match-escrow/internal/notify"
	"github.com/match-escrow/internal/oracle"
	"github.com/match-escrow/internal/postgres"
	"github.com/match-escrow/internal/registry"
	"github.com/match-escrow/internal/settlement"
	"github.com/match-escrow/internal/websocket"
	"github.com/match-escrow/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the Redis transfer gateway
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	transferGateway, err := gateway.NewRedisGateway(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer transferGateway.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	auditRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer auditRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := auditRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Build the event notifier: live WebSocket feed plus Kafka event
	// stream when Kafka is enabled.
	notifiers := notify.Fanout{notify.NewHubNotifier(wsHub)}
	var kafkaNotifier *notify.KafkaNotifier
	if cfg.Kafka.Enabled {
		kafkaNotifier, err = notify.NewKafkaNotifier(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka notifier, continuing without event stream", "error", err)
		} else {
			notifiers = append(notifiers, kafkaNotifier)
		}
	}

	// Initialize core services
	matchRegistry := registry.New(registry.Limits{
		DefaultMaxPlayers: cfg.Match.DefaultMaxPlayers,
		MaxPlayersLimit:   cfg.Match.MaxPlayersLimit,
	}, auditRepo, notifiers, logger)

	ledger := escrow.New(matchRegistry, transferGateway, cfg.Match.EscrowAccount, auditRepo, notifiers, logger)

	results := oracle.NewStore()
	resolvers := settlement.NewAllowList(cfg.Match.Resolvers)
	coordinator := settlement.New(matchRegistry, ledger, results, resolvers, auditRepo, notifiers, logger)

	// Recover open state from the audit database
	logger.Info("restoring open matches from database")
	openMatches, err := auditRepo.LoadOpenMatches(ctx)
	if err != nil {
		logger.Error("failed to load open matches", "error", err)
		os.Exit(1)
	}
	activeWagers, err := auditRepo.LoadActiveWagers(ctx)
	if err != nil {
		logger.Error("failed to load active wagers", "error", err)
		os.Exit(1)
	}
	maxID, err := auditRepo.MaxMatchID(ctx)
	if err != nil {
		logger.Error("failed to read max match id", "error", err)
		os.Exit(1)
	}
	matchRegistry.Restore(openMatches, maxID)
	ledger.Restore(activeWagers)
	logger.Info("state restored", "matches", len(openMatches), "wagers", len(activeWagers), "max_match_id", maxID)

	// Initialize sweep worker
	sweepWorker := worker.NewSweepWorker(
		matchRegistry,
		coordinator,
		results,
		&cfg.Sweep,
		cfg.Match.SystemAccount,
		logger,
	)
	if cfg.Sweep.Enabled {
		if err := sweepWorker.Start(ctx); err != nil {
			logger.Error("failed to start sweep worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for oracle match results
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka results consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ResultsTopic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, results, coordinator, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(matchRegistry, ledger, coordinator, transferGateway, auditRepo, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sweep worker
	if err := sweepWorker.Stop(); err != nil {
		logger.Error("failed to stop sweep worker", "error", err)
	}

	// Stop Kafka notifier
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Error("failed to close Kafka notifier", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
