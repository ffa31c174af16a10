// Package kafka carries signal records and patterns over Kafka topics.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SignalProducer publishes signal records to a topic keyed by symbol, so one
// symbol's rows stay ordered within a partition.
type SignalProducer struct {
	writer messageWriter
	topic  string
}

var _ domain.PersistenceSink = (*SignalProducer)(nil)

// NewSignalProducer creates a producer for topic.
func NewSignalProducer(brokers []string, topic string) *SignalProducer {
	return &SignalProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

// RecordOpened publishes the open row.
func (p *SignalProducer) RecordOpened(ctx context.Context, rec domain.SignalRecord) error {
	return p.publish(ctx, rec)
}

// RecordClosed publishes the close row.
func (p *SignalProducer) RecordClosed(ctx context.Context, rec domain.SignalRecord) error {
	return p.publish(ctx, rec)
}

func (p *SignalProducer) publish(ctx context.Context, rec domain.SignalRecord) error {
	value, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka: encode signal %s: %w", rec.PositionID, err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(rec.Event)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s to %s: %w", rec.Event, p.topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *SignalProducer) Close() error {
	return p.writer.Close()
}
