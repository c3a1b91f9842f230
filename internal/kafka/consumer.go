package kafka

import (
	"context"
	"encoding/json"
	"log"

	"ms-bidding/internal/models"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// StartSettlementResults consumes settlement acknowledgements until ctx
// is done, passing each to the handler. Unparseable messages are logged
// and skipped.
func (c *Consumer) StartSettlementResults(ctx context.Context, handler func(models.SettlementResult)) {
	log.Println("Kafka settlement results consumer started...")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading settlement result: %v\n", err)
			continue
		}

		var result models.SettlementResult
		if err := json.Unmarshal(msg.Value, &result); err != nil {
			log.Printf("Failed to unmarshal settlement result: %v\n", err)
			continue
		}

		log.Printf("Received settlement result: auction=%s success=%t", result.AuctionID, result.Success)
		handler(result)
	}
}

// StartSettlementIntents consumes settlement intents. Used by the
// in-process payment processor standing in for the order collaborator.
func (c *Consumer) StartSettlementIntents(ctx context.Context, handler func(models.SettlementIntent)) {
	log.Println("Kafka settlement intents consumer started...")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading settlement intent: %v\n", err)
			continue
		}

		var intent models.SettlementIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			log.Printf("Failed to unmarshal settlement intent: %v\n", err)
			continue
		}

		handler(intent)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
