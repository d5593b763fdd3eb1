package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/oracle"
)

// Settler attempts settlement of a match on behalf of a resolver
// account
type Settler interface {
	Settle(ctx context.Context, matchID uint64, resolver string) (domain.Settlement, error)
}

// MatchResult is the message format on the results topic. The
// resolver is the oracle account publishing the result; it must be on
// the coordinator's allow list for settlement to proceed.
type MatchResult struct {
	MatchID  uint64 `json:"match_id"`
	Winner   string `json:"winner"`
	Resolver string `json:"resolver"`
}

// Consumer ingests authenticated match results from Kafka, records
// them in the oracle store and drives settlement. A retriable
// settlement failure (gateway down) is only logged: the result stays
// in the store and the sweep worker retries.
type Consumer struct {
	config        *config.KafkaConfig
	results       *oracle.Store
	settler       Settler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka results consumer
func NewConsumer(cfg *config.KafkaConfig, results *oracle.Store, settler Settler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		results:       results,
		settler:       settler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming results from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka results consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ResultsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ResultsTopic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka results consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka results consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes result messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var result MatchResult
			if err := json.Unmarshal(message.Value, &result); err != nil {
				h.consumer.logger.Warn("failed to unmarshal result",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if result.MatchID == 0 || result.Winner == "" || result.Resolver == "" {
				h.consumer.logger.Warn("invalid match result",
					"match_id", result.MatchID,
					"winner", result.Winner,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.consumer.handleResult(result)
			session.MarkMessage(message, "")
		}
	}
}

// handleResult records the result and attempts settlement
func (c *Consumer) handleResult(result MatchResult) {
	c.results.Record(result.MatchID, result.Winner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.settler.Settle(ctx, result.MatchID, result.Resolver); err != nil {
		if domain.IsRetryable(err) {
			// Result is stored, the sweep worker retries later
			c.logger.Warn("settlement deferred", "match_id", result.MatchID, "error", err)
			return
		}
		c.logger.Error("settlement rejected", "match_id", result.MatchID, "error", err)
		return
	}

	c.logger.Info("settled match from result stream", "match_id", result.MatchID, "winner", result.Winner)
}
