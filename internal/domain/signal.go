package domain

import (
	"fmt"
	"time"
)

// Orientation describes how price travelled through a sideways range before
// the pattern fired.
type Orientation string

const (
	// OrientationLowHighLow means the range bottom was re-tested from above.
	OrientationLowHighLow Orientation = "low_to_high_to_low"
	// OrientationHighLowHigh means the range top was re-tested from below.
	OrientationHighLowHigh Orientation = "high_to_low_to_high"
)

// Valid reports whether o is a known orientation.
func (o Orientation) Valid() bool {
	return o == OrientationLowHighLow || o == OrientationHighLowHigh
}

// SidewaysPattern is a detected range-bound price pattern.
type SidewaysPattern struct {
	Symbol      string      `json:"symbol"`
	Orientation Orientation `json:"direction"`
	StartPrice  float64     `json:"start_price"`
	MiddlePrice float64     `json:"middle_price"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// Validate checks the pattern fields that the signal generator relies on.
func (p SidewaysPattern) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("pattern: empty symbol")
	}
	if !p.Orientation.Valid() {
		return fmt.Errorf("pattern %s: unknown orientation %q", p.Symbol, p.Orientation)
	}
	if p.StartPrice <= 0 || p.MiddlePrice <= 0 {
		return fmt.Errorf("pattern %s: non-positive range prices", p.Symbol)
	}
	return nil
}

// TradingSignal is an accepted entry decision. It is consumed once to open a
// position and never stored on its own.
type TradingSignal struct {
	Symbol          string          `json:"symbol"`
	Direction       Direction       `json:"direction"`
	EntryPrice      float64         `json:"entry_price"`
	Timestamp       time.Time       `json:"timestamp"`
	TakeProfitPrice float64         `json:"take_profit_price"`
	StopLossPrice   float64         `json:"stop_loss_price"`
	Reason          string          `json:"reason"`
	Confirmation    Confirmation    `json:"confirmation"`
	Pattern         SidewaysPattern `json:"pattern"`
}

// ConfirmationPolicy selects how filter disagreement is handled.
type ConfirmationPolicy string

const (
	// PolicyStrict rejects a signal when the trend or order-book filter disagrees.
	PolicyStrict ConfirmationPolicy = "STRICT"
	// PolicyPermissive emits every signal and only tags its confirmation.
	PolicyPermissive ConfirmationPolicy = "PERMISSIVE"
)

// Valid reports whether p is a known policy.
func (p ConfirmationPolicy) Valid() bool {
	return p == PolicyStrict || p == PolicyPermissive
}

// PatternMessage is the wire shape of a detected pattern on the pattern
// stream or topic. CurrentPrice is optional; consumers fall back to the last
// cached tick.
type PatternMessage struct {
	SidewaysPattern
	CurrentPrice *float64 `json:"current_price,omitempty"`
}
