package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

// Publisher forwards persisted messages to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, m protocol.WireMessage) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, protocol.WireMessage) error { return nil }
func (NopPublisher) Close() error                                        { return nil }

// KafkaPublisher writes one record per message, keyed by conversation so a
// conversation stays on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, m protocol.WireMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ConversationID),
		Value: b,
		Time:  m.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
