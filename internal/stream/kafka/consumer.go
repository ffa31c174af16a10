package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const commitTimeout = 5 * time.Second

// Router handles one raw pattern message.
type Router interface {
	Route(ctx context.Context, raw []byte) error
}

// PatternConsumer reads patterns from a topic within a consumer group.
type PatternConsumer struct {
	reader messageReader
	router Router
	topic  string
	logger *slog.Logger
}

// NewPatternConsumer creates a consumer for topic in groupID.
func NewPatternConsumer(brokers []string, topic, groupID string, router Router, logger *slog.Logger) *PatternConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		StartOffset:    kafka.LastOffset,
	})
	return &PatternConsumer{
		reader: reader,
		router: router,
		topic:  topic,
		logger: logger.With(slog.String("component", "pattern_consumer")),
	}
}

// Run consumes until ctx is cancelled, then closes the reader. Offsets are
// committed only after a message has been routed.
func (c *PatternConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "pattern consumer started", slog.String("topic", c.topic))
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("pattern consumer close failed", slog.String("error", err.Error()))
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.WarnContext(ctx, "pattern read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := c.router.Route(ctx, msg.Value); err != nil {
			c.logger.ErrorContext(ctx, "pattern handling failed",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
		c.commit(ctx, msg)
	}
}

// commit outlives ctx so a message routed just before shutdown is not
// redelivered.
func (c *PatternConsumer) commit(ctx context.Context, msg kafka.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, msg); err != nil {
		c.logger.WarnContext(ctx, "pattern commit failed",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}
