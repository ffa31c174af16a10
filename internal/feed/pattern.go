package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// PatternHandler receives a pattern with the price to evaluate it at.
type PatternHandler interface {
	HandlePattern(ctx context.Context, pattern domain.SidewaysPattern, price float64) (*domain.Position, error)
}

// PatternRouter decodes pattern messages, resolves their price and hands
// them to a PatternHandler. Both pattern sources share it.
type PatternRouter struct {
	prices  domain.PriceCache
	handler PatternHandler
	logger  *slog.Logger
	now     func() time.Time
}

// NewPatternRouter creates a router. prices may be nil, in which case
// messages without a current price are dropped.
func NewPatternRouter(prices domain.PriceCache, handler PatternHandler, logger *slog.Logger) *PatternRouter {
	return &PatternRouter{
		prices:  prices,
		handler: handler,
		logger:  logger.With(slog.String("component", "pattern_router")),
		now:     time.Now,
	}
}

// DecodePattern parses one wire message. Symbols are upper-cased to match
// the market feed.
func DecodePattern(raw []byte) (domain.PatternMessage, error) {
	var msg domain.PatternMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("feed: decode pattern: %w", err)
	}
	msg.Symbol = strings.ToUpper(strings.TrimSpace(msg.Symbol))
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("feed: decode pattern: %w", err)
	}
	return msg, nil
}

// Route handles one raw message. Undecodable or unpriced messages are
// logged and skipped; only handler errors are returned.
func (r *PatternRouter) Route(ctx context.Context, raw []byte) error {
	msg, err := DecodePattern(raw)
	if err != nil {
		r.logger.WarnContext(ctx, "dropping malformed pattern", slog.String("error", err.Error()))
		return nil
	}
	if msg.DetectedAt.IsZero() {
		msg.DetectedAt = r.now().UTC()
	}

	price, ok := r.resolvePrice(ctx, msg)
	if !ok {
		r.logger.WarnContext(ctx, "dropping pattern without price", slog.String("symbol", msg.Symbol))
		return nil
	}

	pos, err := r.handler.HandlePattern(ctx, msg.SidewaysPattern, price)
	if err != nil {
		return err
	}
	if pos != nil {
		r.logger.InfoContext(ctx, "pattern opened position",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
			slog.String("direction", string(pos.Direction)),
		)
	}
	return nil
}

func (r *PatternRouter) resolvePrice(ctx context.Context, msg domain.PatternMessage) (float64, bool) {
	if msg.CurrentPrice != nil && *msg.CurrentPrice > 0 {
		return *msg.CurrentPrice, true
	}
	if r.prices == nil {
		return 0, false
	}
	price, _, err := r.prices.GetPrice(ctx, msg.Symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "price cache lookup failed",
				slog.String("symbol", msg.Symbol),
				slog.String("error", err.Error()),
			)
		}
		return 0, false
	}
	return price, price > 0
}
