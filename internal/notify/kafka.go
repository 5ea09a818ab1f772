package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaPublisher writes transitions to a Kafka topic.
type KafkaPublisher struct {
	writer *kafkago.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, t Transition) error {
	msg, err := serializeToMessage(t)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage keys messages by zone so transitions for one zone stay
// on one partition.
func serializeToMessage(t Transition) (kafkago.Message, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize transition: %w", err)
	}
	key := t.ZoneID
	if key == "" {
		key = "none"
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "banner", Value: []byte(t.Current.String())},
			{Key: "at", Value: []byte(t.At.Format(time.RFC3339))},
		},
	}, nil
}
