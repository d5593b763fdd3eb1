package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// MatchResult mirrors the message consumed by the results consumer
type MatchResult struct {
	MatchID  uint64 `json:"match_id"`
	Winner   string `json:"winner"`
	Resolver string `json:"resolver"`
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	matchID := flag.Uint64("match", 0, "Match ID to report a result for")
	winner := flag.String("winner", "", "Winning participant account")
	resolver := flag.String("resolver", "oracle-1", "Resolver account reporting the result")
	flag.Parse()

	if *matchID == 0 || *winner == "" {
		log.Fatal("both -match and -winner are required")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Printf("Publishing result: match=%d winner=%s resolver=%s topic=%s\n",
		*matchID, *winner, *resolver, *topic)

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	result := MatchResult{
		MatchID:  *matchID,
		Winner:   *winner,
		Resolver: *resolver,
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("Failed to marshal result: %v", err)
	}

	// Keyed by match ID so results for the same match stay ordered
	producer.Input() <- &sarama.ProducerMessage{
		Topic: *topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(*matchID, 10)),
		Value: sarama.ByteEncoder(data),
	}

	producer.AsyncClose()
	wg.Wait()

	fmt.Printf("✓ Completed. Sent: %d, Errors: %d\n",
		atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}
