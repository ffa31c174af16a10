package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// SignalSource evaluates a pattern at a price. A nil signal with a nil error
// means the pattern was rejected.
type SignalSource interface {
	Evaluate(ctx context.Context, pattern domain.SidewaysPattern, price float64) (*domain.TradingSignal, error)
}

// Lifecycle serializes pattern handling and price ticks per symbol and feeds
// accepted signals and ticks into the position book. Distinct symbols are
// processed concurrently.
type Lifecycle struct {
	book    *PositionBook
	signals SignalSource
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycle creates a coordinator over book and signals.
func NewLifecycle(book *PositionBook, signals SignalSource, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		book:    book,
		signals: signals,
		logger:  logger.With(slog.String("component", "lifecycle")),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Book returns the position book the coordinator drives.
func (l *Lifecycle) Book() *PositionBook { return l.book }

// HandlePattern evaluates pattern at price and opens a position when a
// signal is produced. It returns nil when the pattern was rejected or the
// position limits filled up in the meantime.
func (l *Lifecycle) HandlePattern(ctx context.Context, pattern domain.SidewaysPattern, price float64) (*domain.Position, error) {
	unlock := l.lock(pattern.Symbol)
	defer unlock()

	sig, err := l.signals.Evaluate(ctx, pattern, price)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPosition) || errors.Is(err, domain.ErrPositionNotOpen) {
			l.logger.ErrorContext(ctx, "position bookkeeping diverged",
				slog.String("symbol", pattern.Symbol),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("lifecycle: handle pattern %s: %w", pattern.Symbol, err)
	}
	if sig == nil {
		return nil, nil
	}

	pos, ok := l.book.TryOpenPosition(*sig)
	if !ok {
		l.logger.InfoContext(ctx, "position limit reached at open",
			slog.String("symbol", sig.Symbol),
			slog.String("direction", string(sig.Direction)),
		)
		return nil, nil
	}
	return &pos, nil
}

// HandleTick marks the open positions of symbol to price and returns the
// positions closed by it.
func (l *Lifecycle) HandleTick(ctx context.Context, symbol string, price float64) []domain.Position {
	if price <= 0 {
		l.logger.WarnContext(ctx, "ignoring non-positive price",
			slog.String("symbol", symbol),
			slog.Float64("price", price),
		)
		return nil
	}
	unlock := l.lock(symbol)
	defer unlock()
	return l.book.Update(symbol, price)
}

func (l *Lifecycle) lock(symbol string) func() {
	l.mu.Lock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
