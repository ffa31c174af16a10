package domain

import (
	"context"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a depth snapshot of bids and asks for a symbol. Bids
// are sorted best (highest) first and asks best (lowest) first.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	BestBid   float64      `json:"best_bid"`
	BestAsk   float64      `json:"best_ask"`
	MidPrice  float64      `json:"mid_price"`
	Timestamp time.Time    `json:"timestamp"`
}

// OrderBookAnalysis summarises bid/ask imbalance for a symbol.
type OrderBookAnalysis struct {
	Symbol         string    `json:"symbol"`
	BidAskRatio    float64   `json:"bid_ask_ratio"`
	TotalBidVolume float64   `json:"total_bid_volume"`
	TotalAskVolume float64   `json:"total_ask_volume"`
	Strength       float64   `json:"strength"`
	BullishSignal  bool      `json:"bullish_signal"`
	BearishSignal  bool      `json:"bearish_signal"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
}

// OrderBookOracle reports whether the order book supports a direction.
// Analyze may fail or time out; callers treat that as "unknown".
type OrderBookOracle interface {
	Analyze(ctx context.Context, symbol string) (OrderBookAnalysis, error)
	IsDirectionSupported(dir Direction, analysis OrderBookAnalysis) bool
}

// Trend is the classified market trend of the reference instrument.
type Trend string

const (
	TrendBullish  Trend = "BULLISH"
	TrendBearish  Trend = "BEARISH"
	TrendSideways Trend = "SIDEWAYS"
	TrendUnknown  Trend = "UNKNOWN"
)

// TrendState is the current trend classification with the inputs behind it.
type TrendState struct {
	Symbol    string    `json:"symbol"`
	Trend     Trend     `json:"trend"`
	FastEMA   float64   `json:"fast_ema"`
	SlowEMA   float64   `json:"slow_ema"`
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrendOracle classifies the market trend.
type TrendOracle interface {
	CurrentTrend() TrendState
	IsDirectionAllowed(dir Direction) bool
}
