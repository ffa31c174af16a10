package service

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// pnlLogThreshold is the minimum tick-to-tick price move, in percent, that
// produces an unrealized PnL debug line.
const pnlLogThreshold = 0.1

// BookConfig holds the limits enforced by PositionBook.
type BookConfig struct {
	MaxPositionsPerSymbol int
	// MaxTotalPositions caps open positions across all symbols. Zero
	// disables the ceiling.
	MaxTotalPositions int
	// StatsLogEvery logs a statistics summary every N closed trades. Zero
	// disables the summary.
	StatsLogEvery int
}

// PositionBook owns the open positions, the closed history, and the trade
// statistics. Every query returns copies.
type PositionBook struct {
	cfg    BookConfig
	events domain.EventPublisher
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	open     map[string]*domain.Position
	bySymbol map[string]map[string]*domain.Position
	closed   []domain.Position
	closedID map[string]struct{}
	stats    *StatsAggregator
}

// NewPositionBook creates an empty book. events may be nil.
func NewPositionBook(cfg BookConfig, events domain.EventPublisher, logger *slog.Logger) *PositionBook {
	if cfg.MaxPositionsPerSymbol < 1 {
		cfg.MaxPositionsPerSymbol = 1
	}
	return &PositionBook{
		cfg:      cfg,
		events:   events,
		logger:   logger.With(slog.String("component", "position_book")),
		now:      time.Now,
		open:     make(map[string]*domain.Position),
		bySymbol: make(map[string]map[string]*domain.Position),
		closedID: make(map[string]struct{}),
		stats:    NewStatsAggregator(),
	}
}

// OpenPosition creates an OPEN position from sig and returns a copy of it.
// It does not consult the position limits; see TryOpenPosition.
func (b *PositionBook) OpenPosition(sig domain.TradingSignal) domain.Position {
	out, _ := b.openPosition(sig, false)
	return out
}

// TryOpenPosition opens a position only if CanOpen holds for its symbol. The
// check and the insert happen under one lock, so concurrent opens on
// different symbols cannot overshoot MaxTotalPositions.
func (b *PositionBook) TryOpenPosition(sig domain.TradingSignal) (domain.Position, bool) {
	return b.openPosition(sig, true)
}

func (b *PositionBook) openPosition(sig domain.TradingSignal, enforceLimits bool) (domain.Position, bool) {
	entryTime := sig.Timestamp
	if entryTime.IsZero() {
		entryTime = b.now()
	}
	pos := &domain.Position{
		ID:              uuid.NewString(),
		Symbol:          sig.Symbol,
		Direction:       sig.Direction,
		EntryPrice:      sig.EntryPrice,
		EntryTime:       entryTime,
		CurrentPrice:    sig.EntryPrice,
		TakeProfitPrice: sig.TakeProfitPrice,
		StopLossPrice:   sig.StopLossPrice,
		Status:          domain.PositionStatusOpen,
		TriggerReason:   sig.Reason,
		Confirmation:    sig.Confirmation,
	}

	b.mu.Lock()
	if enforceLimits && !b.canOpenLocked(pos.Symbol) {
		b.mu.Unlock()
		return domain.Position{}, false
	}
	b.open[pos.ID] = pos
	sym := b.bySymbol[pos.Symbol]
	if sym == nil {
		sym = make(map[string]*domain.Position)
		b.bySymbol[pos.Symbol] = sym
	}
	sym[pos.ID] = pos
	b.stats.RecordOpen()
	out := pos.Clone()
	stats := b.stats.Snapshot()
	b.mu.Unlock()

	confirm := "partial"
	if out.Confirmation.Overall {
		confirm = "full"
	}
	b.logger.Info("position opened",
		slog.String("position_id", out.ID),
		slog.String("symbol", out.Symbol),
		slog.String("direction", string(out.Direction)),
		slog.String("entry", FormatPrice(out.EntryPrice)),
		slog.String("take_profit", FormatPrice(out.TakeProfitPrice)),
		slog.String("stop_loss", FormatPrice(out.StopLossPrice)),
		slog.String("confirmation", confirm),
		slog.Bool("trend", out.Confirmation.TrendConfirmed),
		slog.Bool("order_book", out.Confirmation.OrderBookConfirmed),
	)

	b.publish(domain.PositionEvent{
		Type:       domain.EventPositionOpened,
		Position:   out,
		Stats:      stats,
		OccurredAt: b.now(),
	})
	return out, true
}

// Update marks every OPEN position of symbol to price and closes those that
// crossed a threshold. Take profit is checked before stop loss, so a tick
// crossing both closes at take profit. It returns copies of the positions
// closed by this tick.
func (b *PositionBook) Update(symbol string, price float64) []domain.Position {
	var (
		closed []domain.Position
		events []domain.PositionEvent
	)

	b.mu.Lock()
	for _, pos := range sortedPositions(b.bySymbol[symbol]) {
		prev := pos.CurrentPrice
		pos.CurrentPrice = price
		pos.UnrealizedPnL = domain.PnLPercent(pos.Direction, pos.EntryPrice, price)

		status, reason, hit := thresholdCrossed(pos, price)
		if !hit {
			if prev > 0 && math.Abs((price-prev)/prev)*100 > pnlLogThreshold {
				b.logger.Debug("unrealized pnl",
					slog.String("symbol", pos.Symbol),
					slog.String("direction", string(pos.Direction)),
					slog.Float64("pnl_pct", round2(pos.UnrealizedPnL)),
					slog.String("price", FormatPrice(price)),
				)
			}
			continue
		}
		out, evt := b.closeLocked(pos, price, reason, status, pos.UnrealizedPnL, false)
		closed = append(closed, out)
		events = append(events, evt)
	}
	b.mu.Unlock()

	for _, evt := range events {
		b.publish(evt)
	}
	return closed
}

// Close closes the OPEN position id at price with a terminal status. The
// realized PnL is the position's last unrealized PnL. Closing an unknown or
// already closed id is an error.
func (b *PositionBook) Close(id string, price float64, reason string, status domain.PositionStatus) (domain.Position, error) {
	if !status.IsTerminal() {
		return domain.Position{}, fmt.Errorf("position_book: close %s: status %q is not terminal", id, status)
	}

	b.mu.Lock()
	pos, err := b.lookupOpenLocked(id)
	if err != nil {
		b.mu.Unlock()
		return domain.Position{}, err
	}
	out, evt := b.closeLocked(pos, price, reason, status, pos.UnrealizedPnL, false)
	b.mu.Unlock()

	b.publish(evt)
	return out, nil
}

// CloseByReversal force-closes the OPEN position id because a signal in the
// opposite direction arrived. The realized PnL is recomputed from the entry
// and close prices and the status is always CLOSED_SL.
func (b *PositionBook) CloseByReversal(id string, price float64, reason string) (domain.Position, error) {
	b.mu.Lock()
	pos, err := b.lookupOpenLocked(id)
	if err != nil {
		b.mu.Unlock()
		return domain.Position{}, err
	}
	pos.CurrentPrice = price
	realized := domain.PnLPercent(pos.Direction, pos.EntryPrice, price)
	pos.UnrealizedPnL = realized
	out, evt := b.closeLocked(pos, price, reason, domain.PositionStatusClosedSL, realized, true)
	b.mu.Unlock()

	b.publish(evt)
	return out, nil
}

// CanOpen reports whether another position may be opened for symbol.
func (b *PositionBook) CanOpen(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.canOpenLocked(symbol)
}

func (b *PositionBook) canOpenLocked(symbol string) bool {
	if len(b.bySymbol[symbol]) >= b.cfg.MaxPositionsPerSymbol {
		return false
	}
	if b.cfg.MaxTotalPositions > 0 && len(b.open) >= b.cfg.MaxTotalPositions {
		return false
	}
	return true
}

// OpenPositions returns copies of all OPEN positions ordered by entry time.
func (b *PositionBook) OpenPositions() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return clonePositions(sortedPositions(b.open))
}

// OpenPositionsFor returns copies of the OPEN positions of symbol.
func (b *PositionBook) OpenPositionsFor(symbol string) []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return clonePositions(sortedPositions(b.bySymbol[symbol]))
}

// PositionBySymbol returns the oldest OPEN position of symbol, if any.
func (b *PositionBook) PositionBySymbol(symbol string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ps := sortedPositions(b.bySymbol[symbol])
	if len(ps) == 0 {
		return domain.Position{}, false
	}
	return ps[0].Clone(), true
}

// ClosedHistory returns copies of all closed positions in close order.
func (b *PositionBook) ClosedHistory() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, len(b.closed))
	for i, p := range b.closed {
		out[i] = p.Clone()
	}
	return out
}

// ClosedSince returns copies of closed positions from index from onward and
// the index to pass on the next call.
func (b *PositionBook) ClosedSince(from int) ([]domain.Position, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(b.closed) {
		return nil, len(b.closed)
	}
	out := make([]domain.Position, 0, len(b.closed)-from)
	for _, p := range b.closed[from:] {
		out = append(out, p.Clone())
	}
	return out, len(b.closed)
}

// Stats returns a snapshot of the trade statistics.
func (b *PositionBook) Stats() domain.TradingStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats.Snapshot()
}

func (b *PositionBook) lookupOpenLocked(id string) (*domain.Position, error) {
	if pos, ok := b.open[id]; ok {
		return pos, nil
	}
	if _, ok := b.closedID[id]; ok {
		return nil, fmt.Errorf("position_book: %s: %w", id, domain.ErrPositionNotOpen)
	}
	return nil, fmt.Errorf("position_book: %s: %w", id, domain.ErrUnknownPosition)
}

// closeLocked finalises pos, moves a copy into the closed history and
// returns that copy with the event to publish. Caller holds b.mu.
func (b *PositionBook) closeLocked(pos *domain.Position, price float64, reason string, status domain.PositionStatus, realized float64, reversal bool) (domain.Position, domain.PositionEvent) {
	now := b.now()
	closedPrice := price
	pos.Status = status
	pos.ClosedPrice = &closedPrice
	pos.ClosedTime = &now
	pos.CloseReason = reason
	pos.RealizedPnL = &realized

	b.stats.RecordClose(realized)
	out := pos.Clone()
	b.closed = append(b.closed, out.Clone())
	b.closedID[pos.ID] = struct{}{}
	delete(b.open, pos.ID)
	if sym := b.bySymbol[pos.Symbol]; sym != nil {
		delete(sym, pos.ID)
		if len(sym) == 0 {
			delete(b.bySymbol, pos.Symbol)
		}
	}
	stats := b.stats.Snapshot()

	msg := "position closed"
	if reversal {
		msg = "position closed by reversal"
	}
	b.logger.Info(msg,
		slog.String("position_id", out.ID),
		slog.String("symbol", out.Symbol),
		slog.String("direction", string(out.Direction)),
		slog.String("status", string(out.Status)),
		slog.Float64("pnl_pct", round2(realized)),
		slog.String("entry", FormatPrice(out.EntryPrice)),
		slog.String("exit", FormatPrice(price)),
		slog.String("reason", reason),
	)
	if b.cfg.StatsLogEvery > 0 && stats.ClosedTrades%b.cfg.StatsLogEvery == 0 {
		b.logStats(stats)
	}

	return out, domain.PositionEvent{
		Type:       domain.EventPositionClosed,
		Position:   out,
		Stats:      stats,
		Reversal:   reversal,
		OccurredAt: now,
	}
}

func (b *PositionBook) logStats(s domain.TradingStats) {
	attrs := []any{
		slog.Int("total", s.TotalTrades),
		slog.Int("open", s.OpenTrades),
		slog.Int("closed", s.ClosedTrades),
	}
	if s.ClosedTrades > 0 {
		attrs = append(attrs,
			slog.Int("wins", s.WinTrades),
			slog.Int("losses", s.LossTrades),
			slog.Float64("win_rate", math.Round(s.WinRate*10)/10),
			slog.Float64("total_pnl_pct", round2(s.TotalPnL)),
			slog.Float64("avg_pnl_pct", round2(s.AveragePnL)),
			slog.Float64("best_pct", round2(s.MaxWin)),
			slog.Float64("worst_pct", round2(s.MaxLoss)),
		)
	}
	b.logger.Info("trading stats", attrs...)
}

func (b *PositionBook) publish(evt domain.PositionEvent) {
	if b.events != nil {
		b.events.Publish(evt)
	}
}

// thresholdCrossed evaluates take profit first, then stop loss. Both
// comparisons are inclusive.
func thresholdCrossed(p *domain.Position, price float64) (domain.PositionStatus, string, bool) {
	switch p.Direction {
	case domain.DirectionLong:
		if price >= p.TakeProfitPrice {
			return domain.PositionStatusClosedTP, domain.CloseReasonTakeProfit, true
		}
		if price <= p.StopLossPrice {
			return domain.PositionStatusClosedSL, domain.CloseReasonStopLoss, true
		}
	case domain.DirectionShort:
		if price <= p.TakeProfitPrice {
			return domain.PositionStatusClosedTP, domain.CloseReasonTakeProfit, true
		}
		if price >= p.StopLossPrice {
			return domain.PositionStatusClosedSL, domain.CloseReasonStopLoss, true
		}
	}
	return "", "", false
}

func sortedPositions(m map[string]*domain.Position) []*domain.Position {
	out := make([]*domain.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func clonePositions(ps []*domain.Position) []domain.Position {
	out := make([]domain.Position, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
