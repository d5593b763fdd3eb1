package notify

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/match-escrow/internal/config"
	"github.com/match-escrow/internal/domain"
)

// KafkaNotifier publishes match events to a Kafka topic using an
// async producer. Events are keyed by match ID so per-match ordering
// is preserved within a partition.
type KafkaNotifier struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewKafkaNotifier creates a Kafka-backed notifier
func NewKafkaNotifier(cfg *config.KafkaConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, err
	}

	n := &KafkaNotifier{
		producer: producer,
		topic:    cfg.EventsTopic,
		logger:   logger,
	}

	// Drain producer errors so they only end up in the log
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for err := range producer.Errors() {
			n.logger.Warn("failed to publish event", "error", err)
		}
	}()

	return n, nil
}

// Publish implements Notifier
func (n *KafkaNotifier) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal event", "error", err, "type", event.Type)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(event.MatchID, 10)),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case n.producer.Input() <- msg:
	default:
		n.logger.Warn("event buffer full, dropping event", "type", event.Type, "match_id", event.MatchID)
	}
}

// Close shuts down the producer and waits for the error drainer
func (n *KafkaNotifier) Close() error {
	err := n.producer.Close()
	n.wg.Wait()
	return err
}
