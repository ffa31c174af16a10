package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

const (
	defaultOrderBookTimeout = 2 * time.Second
	levelPrecision          = 8
)

// Book is the view of the position book the generator needs: the per-symbol
// limit check, the symbol's open positions, and the reversal close.
type Book interface {
	CanOpen(symbol string) bool
	OpenPositionsFor(symbol string) []domain.Position
	CloseByReversal(id string, price float64, reason string) (domain.Position, error)
}

// SidewaysConfig controls signal generation.
type SidewaysConfig struct {
	Enabled           bool
	TakeProfitPercent float64
	StopLossPercent   float64
	Policy            domain.ConfirmationPolicy
	// OrderBookTimeout bounds each order-book oracle call.
	OrderBookTimeout time.Duration
}

// SignalGenerator turns sideways patterns into trading signals. Calls for the
// same symbol must be serialized by the caller.
type SignalGenerator struct {
	cfg       SidewaysConfig
	book      Book
	trend     domain.TrendOracle
	orderBook domain.OrderBookOracle
	logger    *slog.Logger
	now       func() time.Time
}

// NewSignalGenerator wires a generator to its position book and oracles.
func NewSignalGenerator(cfg SidewaysConfig, book Book, trend domain.TrendOracle, orderBook domain.OrderBookOracle, logger *slog.Logger) *SignalGenerator {
	if cfg.OrderBookTimeout <= 0 {
		cfg.OrderBookTimeout = defaultOrderBookTimeout
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = domain.PolicyStrict
	}
	return &SignalGenerator{
		cfg:       cfg,
		book:      book,
		trend:     trend,
		orderBook: orderBook,
		logger:    logger.With(slog.String("strategy", "sideways")),
		now:       time.Now,
	}
}

// Policy returns the active confirmation policy.
func (g *SignalGenerator) Policy() domain.ConfirmationPolicy { return g.cfg.Policy }

// DirectionFor maps a pattern orientation to a trade direction. A retested
// low is a LONG entry and a retested high is a SHORT entry.
func DirectionFor(o domain.Orientation) domain.Direction {
	if o == domain.OrientationLowHighLow {
		return domain.DirectionLong
	}
	return domain.DirectionShort
}

// Evaluate decides whether pattern at price produces a signal. A nil signal
// with a nil error is a rejection. Open positions in the opposite direction
// are closed by reversal before the position limit is checked.
func (g *SignalGenerator) Evaluate(ctx context.Context, pattern domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
	if !g.cfg.Enabled {
		return nil, nil
	}
	if err := pattern.Validate(); err != nil {
		return nil, fmt.Errorf("sideways: evaluate: %w", err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("sideways: evaluate %s: non-positive price %v", pattern.Symbol, price)
	}

	dir := DirectionFor(pattern.Orientation)
	if err := g.reverse(ctx, pattern.Symbol, dir, price); err != nil {
		return nil, err
	}

	if !g.book.CanOpen(pattern.Symbol) {
		g.logger.DebugContext(ctx, "position limit reached",
			slog.String("symbol", pattern.Symbol),
			slog.String("direction", string(dir)),
		)
		return nil, nil
	}

	trendState := g.trend.CurrentTrend()
	trendOK := g.trend.IsDirectionAllowed(dir)
	analysis, obKnown := g.analyzeOrderBook(ctx, pattern.Symbol)
	obOK := obKnown && g.orderBook.IsDirectionSupported(dir, analysis)

	conf := domain.Confirmation{
		TrendConfirmed:         trendOK,
		VolumeProfileConfirmed: true,
		OrderBookConfirmed:     obOK,
		OrderBookKnown:         obKnown,
	}
	conf.Overall = conf.TrendConfirmed && conf.VolumeProfileConfirmed && conf.OrderBookConfirmed

	if g.cfg.Policy == domain.PolicyStrict && (!trendOK || (obKnown && !obOK)) {
		g.logger.InfoContext(ctx, "signal rejected",
			slog.String("symbol", pattern.Symbol),
			slog.String("direction", string(dir)),
			slog.String("trend", string(trendState.Trend)),
			slog.Bool("trend_ok", trendOK),
			slog.Bool("order_book_ok", obOK),
		)
		return nil, nil
	}

	tp, sl := Levels(dir, price, g.cfg.TakeProfitPercent, g.cfg.StopLossPercent)
	sig := &domain.TradingSignal{
		Symbol:          pattern.Symbol,
		Direction:       dir,
		EntryPrice:      price,
		Timestamp:       g.now().UTC(),
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		Reason:          reasonText(dir, pattern, price, trendState, trendOK, analysis, obKnown, obOK),
		Confirmation:    conf,
		Pattern:         pattern,
	}

	confirm := "partial"
	if conf.Overall {
		confirm = "full"
	}
	g.logger.InfoContext(ctx, "signal generated",
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("entry", sig.EntryPrice),
		slog.Float64("take_profit", sig.TakeProfitPrice),
		slog.Float64("stop_loss", sig.StopLossPrice),
		slog.String("confirmation", confirm),
		slog.String("policy", string(g.cfg.Policy)),
	)
	return sig, nil
}

// reverse closes every open position of symbol that points against dir.
func (g *SignalGenerator) reverse(ctx context.Context, symbol string, dir domain.Direction, price float64) error {
	for _, pos := range g.book.OpenPositionsFor(symbol) {
		if pos.Direction != dir.Opposite() {
			continue
		}
		reason := fmt.Sprintf("trend reversal: %s -> %s", pos.Direction, dir)
		if _, err := g.book.CloseByReversal(pos.ID, price, reason); err != nil {
			return fmt.Errorf("sideways: reverse %s: %w", pos.ID, err)
		}
		g.logger.InfoContext(ctx, "reversal close",
			slog.String("symbol", symbol),
			slog.String("position_id", pos.ID),
			slog.String("reason", reason),
		)
	}
	return nil
}

// analyzeOrderBook queries the oracle under the configured timeout. Any
// failure leaves the filter unknown.
func (g *SignalGenerator) analyzeOrderBook(ctx context.Context, symbol string) (domain.OrderBookAnalysis, bool) {
	if g.orderBook == nil {
		return domain.OrderBookAnalysis{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.OrderBookTimeout)
	defer cancel()

	a, err := g.orderBook.Analyze(ctx, symbol)
	if err != nil {
		g.logger.WarnContext(ctx, "order book unavailable",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return domain.OrderBookAnalysis{}, false
	}
	return a, true
}

// Levels computes take-profit and stop-loss prices for an entry, rounded to
// eight decimal places.
func Levels(dir domain.Direction, entry, tpPercent, slPercent float64) (takeProfit, stopLoss float64) {
	e := decimal.NewFromFloat(entry)
	hundred := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)
	up := decimal.NewFromFloat(tpPercent).Div(hundred)
	down := decimal.NewFromFloat(slPercent).Div(hundred)

	var tp, sl decimal.Decimal
	if dir == domain.DirectionLong {
		tp = e.Mul(one.Add(up))
		sl = e.Mul(one.Sub(down))
	} else {
		tp = e.Mul(one.Sub(up))
		sl = e.Mul(one.Add(down))
	}
	return tp.Round(levelPrecision).InexactFloat64(), sl.Round(levelPrecision).InexactFloat64()
}

func reasonText(dir domain.Direction, p domain.SidewaysPattern, price float64, ts domain.TrendState, trendOK bool, a domain.OrderBookAnalysis, obKnown, obOK bool) string {
	edge := "low"
	if dir == domain.DirectionShort {
		edge = "high"
	}
	trend := ts.Trend
	if trend == "" {
		trend = domain.TrendUnknown
	}

	var b strings.Builder
	fmt.Fprintf(&b, "sideways range closed back at the %s (%.6f -> %.6f -> %.6f)", edge, p.StartPrice, p.MiddlePrice, price)
	fmt.Fprintf(&b, " | confirmations: trend %s %s", trend, okNo(trendOK))
	if obKnown {
		fmt.Fprintf(&b, ", orderbook (%.2f) %s", a.BidAskRatio, okNo(obOK))
	} else {
		b.WriteString(", orderbook unavailable")
	}
	b.WriteString(", range ok")
	return b.String()
}

func okNo(v bool) string {
	if v {
		return "ok"
	}
	return "no"
}
