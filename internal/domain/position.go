package domain

import "time"

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// PositionStatus is the lifecycle state of a position. OPEN is the only
// initial state; both CLOSED_* values are terminal.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "OPEN"
	PositionStatusClosedTP PositionStatus = "CLOSED_TP"
	PositionStatusClosedSL PositionStatus = "CLOSED_SL"
)

// IsTerminal reports whether the status is one of the closed states.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusClosedTP || s == PositionStatusClosedSL
}

// Close reasons recorded on positions.
const (
	CloseReasonTakeProfit = "take profit reached"
	CloseReasonStopLoss   = "stop loss triggered"
)

// Confirmation records which filters agreed with the direction of a signal.
type Confirmation struct {
	TrendConfirmed         bool `json:"trend_confirmed"`
	VolumeProfileConfirmed bool `json:"volume_profile_confirmed"`
	OrderBookConfirmed     bool `json:"order_book_confirmed"`
	// OrderBookKnown is false when the order-book oracle failed or timed out.
	OrderBookKnown bool `json:"order_book_known"`
	Overall        bool `json:"overall"`
}

// Position is a simulated trading position. While OPEN it is owned by the
// position book; callers only ever see copies.
type Position struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	Direction       Direction      `json:"direction"`
	EntryPrice      float64        `json:"entry_price"`
	EntryTime       time.Time      `json:"entry_time"`
	CurrentPrice    float64        `json:"current_price"`
	TakeProfitPrice float64        `json:"take_profit_price"`
	StopLossPrice   float64        `json:"stop_loss_price"`
	Status          PositionStatus `json:"status"`

	// Set iff Status is terminal.
	ClosedPrice *float64   `json:"closed_price,omitempty"`
	ClosedTime  *time.Time `json:"closed_time,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	UnrealizedPnL float64  `json:"unrealized_pnl"`
	RealizedPnL   *float64 `json:"realized_pnl,omitempty"`

	TriggerReason string       `json:"trigger_reason"`
	Confirmation  Confirmation `json:"confirmation"`
}

// Clone returns a deep copy of p.
func (p Position) Clone() Position {
	out := p
	if p.ClosedPrice != nil {
		v := *p.ClosedPrice
		out.ClosedPrice = &v
	}
	if p.ClosedTime != nil {
		v := *p.ClosedTime
		out.ClosedTime = &v
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		out.RealizedPnL = &v
	}
	return out
}

// IsOpen reports whether the position is still OPEN.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnLPercent returns the signed percentage move from entry to price for the
// given direction.
func PnLPercent(dir Direction, entry, price float64) float64 {
	if entry == 0 {
		return 0
	}
	if dir == DirectionLong {
		return (price - entry) / entry * 100
	}
	return (entry - price) / entry * 100
}

// TradingStats is a snapshot of aggregate trade statistics. All PnL figures
// are percentages.
type TradingStats struct {
	TotalTrades  int     `json:"total_trades"`
	OpenTrades   int     `json:"open_trades"`
	ClosedTrades int     `json:"closed_trades"`
	WinTrades    int     `json:"win_trades"`
	LossTrades   int     `json:"loss_trades"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	AveragePnL   float64 `json:"average_pnl"`
	MaxWin       float64 `json:"max_win"`
	MaxLoss      float64 `json:"max_loss"`
}
