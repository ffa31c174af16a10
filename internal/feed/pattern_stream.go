package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// PatternStream reads pattern messages from a bus stream. It starts at new
// entries only, so a restart does not replay old patterns.
type PatternStream struct {
	bus    domain.SignalBus
	stream string
	router *PatternRouter
	batch  int
	retry  time.Duration
	logger *slog.Logger
}

// NewPatternStream creates a stream reader.
func NewPatternStream(bus domain.SignalBus, stream string, router *PatternRouter, logger *slog.Logger) *PatternStream {
	return &PatternStream{
		bus:    bus,
		stream: stream,
		router: router,
		batch:  50,
		retry:  2 * time.Second,
		logger: logger.With(slog.String("component", "pattern_stream")),
	}
}

// Run consumes until ctx is cancelled.
func (s *PatternStream) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "pattern stream started", slog.String("stream", s.stream))
	lastID := "$"
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := s.bus.StreamRead(ctx, s.stream, lastID, s.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "pattern stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retry):
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			if err := s.router.Route(ctx, m.Payload); err != nil {
				s.logger.ErrorContext(ctx, "pattern handling failed",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
