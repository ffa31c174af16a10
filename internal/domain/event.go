package domain

import (
	"context"
	"strings"
	"time"
)

// PositionEventType names a position lifecycle transition.
type PositionEventType string

const (
	EventPositionOpened PositionEventType = "position_opened"
	EventPositionClosed PositionEventType = "position_closed"
)

// PositionEvent is emitted by the position book after a state transition.
// Position and Stats are copies taken at emission time.
type PositionEvent struct {
	Type       PositionEventType `json:"event"`
	Position   Position          `json:"position"`
	Stats      TradingStats      `json:"stats"`
	Reversal   bool              `json:"reversal,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventPublisher accepts position events without blocking the caller.
type EventPublisher interface {
	Publish(evt PositionEvent)
}

// SignalRecord is one row of the append-only signal log. Result is nil until
// the position closes.
type SignalRecord struct {
	Date       string    `json:"date"`
	Symbol     string    `json:"symbol"`
	VP         bool      `json:"vp"`
	Trend      bool      `json:"trend"`
	OrderBook  bool      `json:"order_book"`
	Overall    bool      `json:"overall"`
	Open       float64   `json:"open"`
	Side       string    `json:"side"`
	TP         float64   `json:"tp"`
	SL         float64   `json:"sl"`
	Result     *float64  `json:"result"`
	PositionID string    `json:"position_id"`
	Event      string    `json:"event"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordFromEvent builds the signal log row for evt. The date is always the
// entry date of the position.
func RecordFromEvent(evt PositionEvent) SignalRecord {
	p := evt.Position
	rec := SignalRecord{
		Date:       p.EntryTime.UTC().Format(time.DateOnly),
		Symbol:     p.Symbol,
		VP:         p.Confirmation.VolumeProfileConfirmed,
		Trend:      p.Confirmation.TrendConfirmed,
		OrderBook:  p.Confirmation.OrderBookConfirmed,
		Overall:    p.Confirmation.Overall,
		Open:       p.EntryPrice,
		Side:       strings.ToLower(string(p.Direction)),
		TP:         p.TakeProfitPrice,
		SL:         p.StopLossPrice,
		PositionID: p.ID,
		Event:      string(evt.Type),
		RecordedAt: evt.OccurredAt,
	}
	if evt.Type == EventPositionClosed && p.RealizedPnL != nil {
		v := *p.RealizedPnL
		rec.Result = &v
	}
	return rec
}

// PersistenceSink is an append-only destination for signal records.
// Duplicate rows are tolerated.
type PersistenceSink interface {
	RecordOpened(ctx context.Context, rec SignalRecord) error
	RecordClosed(ctx context.Context, rec SignalRecord) error
}
