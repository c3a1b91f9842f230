package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-bidding/internal/config"
	"ms-bidding/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer publishes auction events. Messages are keyed by auction ID so
// consumers see each auction's events in order.
type Producer struct {
	writer *kafka.Writer
	topics config.TopicConfig
}

// NewProducer builds a producer for the configured brokers. With mock
// set, publishes are logged and dropped; used in local development
// without a broker.
func NewProducer(brokers []string, topics config.TopicConfig, mock bool) *Producer {
	if mock {
		return &Producer{topics: topics}
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
	return &Producer{writer: writer, topics: topics}
}

// Publish sends one message to a topic. The generic entry point; the
// typed methods below are what the engine and settlement trigger use.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	if p.writer == nil {
		fmt.Printf("Kafka mock mode, dropping [%s]: %s\n", topic, string(value))
		return nil
	}
	return p.writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// PublishAuctionExtended streams an anti-snipe extension event
func (p *Producer) PublishAuctionExtended(event models.AuctionExtendedEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.topics.AuctionExtended, event.AuctionID, msgBytes)
}

// PublishAuctionClosed streams the one-time closure event with the outcome
func (p *Producer) PublishAuctionClosed(event models.AuctionClosedEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.topics.AuctionClosed, event.AuctionID, msgBytes)
}

// PublishBidOutbid notifies the displaced bidder's notification stream
func (p *Producer) PublishBidOutbid(event models.BidOutbidEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.topics.BidOutbid, event.AuctionID, msgBytes)
}

// PublishSettlementIntent hands a won auction to the order collaborator
func (p *Producer) PublishSettlementIntent(intent models.SettlementIntent) error {
	msgBytes, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return p.Publish(p.topics.Settlement, intent.AuctionID, msgBytes)
}

// PublishSettlementResult reports an order collaborator acknowledgement.
// Used by the in-process payment processor; an external collaborator
// writes to the same topic.
func (p *Producer) PublishSettlementResult(result models.SettlementResult) error {
	msgBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return p.Publish(p.topics.SettlementResults, result.AuctionID, msgBytes)
}

// Close flushes and shuts down the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
