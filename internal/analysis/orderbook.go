package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// OrderBookConfig controls the imbalance oracle.
type OrderBookConfig struct {
	Depth          int
	RatioThreshold float64
	MaxAge         time.Duration
}

// OrderBookAnalyzer measures bid/ask notional imbalance on the latest cached
// depth snapshot.
type OrderBookAnalyzer struct {
	cfg   OrderBookConfig
	books domain.OrderbookCache
	now   func() time.Time
}

var _ domain.OrderBookOracle = (*OrderBookAnalyzer)(nil)

// NewOrderBookAnalyzer creates an analyzer reading snapshots from books.
func NewOrderBookAnalyzer(cfg OrderBookConfig, books domain.OrderbookCache) *OrderBookAnalyzer {
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.RatioThreshold <= 1 {
		cfg.RatioThreshold = 1.2
	}
	return &OrderBookAnalyzer{cfg: cfg, books: books, now: time.Now}
}

// Analyze loads the snapshot for symbol and computes its imbalance. A
// snapshot older than MaxAge fails with ErrStaleOrderBook.
func (a *OrderBookAnalyzer) Analyze(ctx context.Context, symbol string) (domain.OrderBookAnalysis, error) {
	snap, err := a.books.GetSnapshot(ctx, symbol)
	if err != nil {
		return domain.OrderBookAnalysis{}, fmt.Errorf("orderbook: analyze %s: %w", symbol, err)
	}
	if a.cfg.MaxAge > 0 && a.now().Sub(snap.Timestamp) > a.cfg.MaxAge {
		return domain.OrderBookAnalysis{}, fmt.Errorf("orderbook: analyze %s: snapshot from %s: %w",
			symbol, snap.Timestamp.Format(time.RFC3339), domain.ErrStaleOrderBook)
	}
	return a.measure(snap)
}

func (a *OrderBookAnalyzer) measure(snap domain.OrderbookSnapshot) (domain.OrderBookAnalysis, error) {
	bidVol := notional(snap.Bids, a.cfg.Depth)
	askVol := notional(snap.Asks, a.cfg.Depth)
	if bidVol <= 0 || askVol <= 0 {
		return domain.OrderBookAnalysis{}, fmt.Errorf("orderbook: analyze %s: one-sided book: %w",
			snap.Symbol, domain.ErrOracleUnavailable)
	}

	ratio := bidVol / askVol
	return domain.OrderBookAnalysis{
		Symbol:         snap.Symbol,
		BidAskRatio:    ratio,
		TotalBidVolume: bidVol,
		TotalAskVolume: askVol,
		Strength:       max(ratio, 1/ratio),
		BullishSignal:  ratio >= a.cfg.RatioThreshold,
		BearishSignal:  ratio <= 1/a.cfg.RatioThreshold,
		AnalyzedAt:     a.now().UTC(),
	}, nil
}

// IsDirectionSupported reports whether the imbalance favours dir.
func (a *OrderBookAnalyzer) IsDirectionSupported(dir domain.Direction, analysis domain.OrderBookAnalysis) bool {
	if dir == domain.DirectionLong {
		return analysis.BullishSignal
	}
	return analysis.BearishSignal
}

// notional sums price x size over the first depth levels.
func notional(levels []domain.PriceLevel, depth int) float64 {
	var total float64
	for i, l := range levels {
		if i >= depth {
			break
		}
		total += l.Price * l.Size
	}
	return total
}
