package journal

import (
	"context"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	skafka "github.com/segmentio/kafka-go"

	"biblio/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer is the subset of kafka.Writer the publisher needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher publishes loan events as JSON, keyed by loan id so the
// events of one loan stay ordered on a partition
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to broker/topic
func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(broker),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireOne,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Record publishes event
func (p *KafkaPublisher) Record(ctx context.Context, event models.LoanEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal loan event: %w", err)
	}
	msg := skafka.Message{
		Key:   []byte(strconv.FormatInt(event.LoanID, 10)),
		Value: b,
		Headers: []skafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish loan event: %w", err)
	}
	return nil
}

// Close closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
