// Package analysis implements the trend and order-book oracles consulted by
// the signal generator.
package analysis

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// TrendConfig controls the EMA crossover classifier.
type TrendConfig struct {
	Symbol     string
	FastPeriod int
	SlowPeriod int
	// NeutralBandPercent is the fast/slow spread, in percent of the slow EMA,
	// inside which the trend is SIDEWAYS.
	NeutralBandPercent float64
}

// TrendTracker classifies the reference instrument's trend from a fast and
// a slow exponential moving average of its ticks.
type TrendTracker struct {
	cfg    TrendConfig
	logger *slog.Logger

	mu      sync.RWMutex
	fast    float64
	slow    float64
	samples int
	trend   domain.Trend
	updated time.Time
}

var _ domain.TrendOracle = (*TrendTracker)(nil)

// NewTrendTracker creates a tracker with no samples.
func NewTrendTracker(cfg TrendConfig, logger *slog.Logger) *TrendTracker {
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 12
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = 2 * cfg.FastPeriod
	}
	if cfg.NeutralBandPercent < 0 {
		cfg.NeutralBandPercent = 0
	}
	return &TrendTracker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "trend_tracker")),
		trend:  domain.TrendUnknown,
	}
}

// Symbol returns the reference instrument.
func (t *TrendTracker) Symbol() string { return t.cfg.Symbol }

// Observe feeds one price into both averages.
func (t *TrendTracker) Observe(price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.samples == 0 {
		t.fast, t.slow = price, price
	} else {
		t.fast = ema(t.fast, price, t.cfg.FastPeriod)
		t.slow = ema(t.slow, price, t.cfg.SlowPeriod)
	}
	t.samples++
	t.updated = ts

	next := t.classify()
	if next != t.trend {
		t.logger.Info("trend changed",
			slog.String("symbol", t.cfg.Symbol),
			slog.String("from", string(t.trend)),
			slog.String("to", string(next)),
			slog.Float64("fast_ema", t.fast),
			slog.Float64("slow_ema", t.slow),
		)
		t.trend = next
	}
}

// CurrentTrend returns the latest classification.
func (t *TrendTracker) CurrentTrend() domain.TrendState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.TrendState{
		Symbol:    t.cfg.Symbol,
		Trend:     t.trend,
		FastEMA:   t.fast,
		SlowEMA:   t.slow,
		Samples:   t.samples,
		UpdatedAt: t.updated,
	}
}

// IsDirectionAllowed rejects LONG in a bearish market and SHORT in a
// bullish one. Every other state allows both.
func (t *TrendTracker) IsDirectionAllowed(dir domain.Direction) bool {
	switch t.CurrentTrend().Trend {
	case domain.TrendBearish:
		return dir != domain.DirectionLong
	case domain.TrendBullish:
		return dir != domain.DirectionShort
	default:
		return true
	}
}

// classify requires the slow average to have seen a full period. Caller
// holds t.mu.
func (t *TrendTracker) classify() domain.Trend {
	if t.samples < t.cfg.SlowPeriod || t.slow == 0 {
		return domain.TrendUnknown
	}
	spread := (t.fast - t.slow) / t.slow * 100
	switch {
	case spread > t.cfg.NeutralBandPercent:
		return domain.TrendBullish
	case spread < -t.cfg.NeutralBandPercent:
		return domain.TrendBearish
	default:
		return domain.TrendSideways
	}
}

func ema(prev, price float64, period int) float64 {
	k := 2 / (float64(period) + 1)
	return price*k + prev*(1-k)
}
