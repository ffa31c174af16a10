package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

type memBooks map[string]domain.OrderbookSnapshot

func (m memBooks) SetSnapshot(_ context.Context, snap domain.OrderbookSnapshot) error {
	m[snap.Symbol] = snap
	return nil
}

func (m memBooks) GetSnapshot(_ context.Context, symbol string) (domain.OrderbookSnapshot, error) {
	snap, ok := m[symbol]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newAnalyzer(books memBooks) *OrderBookAnalyzer {
	a := NewOrderBookAnalyzer(OrderBookConfig{Depth: 2, RatioThreshold: 1.2, MaxAge: 30 * time.Second}, books)
	a.now = func() time.Time { return testNow }
	return a
}

func TestOrderBookAnalyzer_Bullish(t *testing.T) {
	books := memBooks{"BTCUSDT": {
		Symbol:    "BTCUSDT",
		Bids:      []domain.PriceLevel{{Price: 100, Size: 2}, {Price: 99, Size: 1}, {Price: 98, Size: 100}},
		Asks:      []domain.PriceLevel{{Price: 101, Size: 1}, {Price: 102, Size: 0.5}},
		Timestamp: testNow.Add(-time.Second),
	}}
	a := newAnalyzer(books)

	got, err := a.Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 299, got.TotalBidVolume, 1e-9, "only the first two levels count")
	assert.InDelta(t, 152, got.TotalAskVolume, 1e-9)
	assert.InDelta(t, 299.0/152.0, got.BidAskRatio, 1e-9)
	assert.InDelta(t, got.BidAskRatio, got.Strength, 1e-9)
	assert.True(t, got.BullishSignal)
	assert.False(t, got.BearishSignal)
	assert.True(t, a.IsDirectionSupported(domain.DirectionLong, got))
	assert.False(t, a.IsDirectionSupported(domain.DirectionShort, got))
}

func TestOrderBookAnalyzer_Bearish(t *testing.T) {
	books := memBooks{"ETHUSDT": {
		Symbol:    "ETHUSDT",
		Bids:      []domain.PriceLevel{{Price: 10, Size: 1}},
		Asks:      []domain.PriceLevel{{Price: 10, Size: 2}},
		Timestamp: testNow,
	}}
	got, err := newAnalyzer(books).Analyze(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.BidAskRatio, 1e-9)
	assert.InDelta(t, 2.0, got.Strength, 1e-9)
	assert.True(t, got.BearishSignal)
	assert.False(t, got.BullishSignal)
}

func TestOrderBookAnalyzer_Errors(t *testing.T) {
	books := memBooks{
		"OLD": {Symbol: "OLD", Bids: []domain.PriceLevel{{Price: 1, Size: 1}}, Asks: []domain.PriceLevel{{Price: 1, Size: 1}}, Timestamp: testNow.Add(-time.Minute)},
		"ONE": {Symbol: "ONE", Bids: []domain.PriceLevel{{Price: 1, Size: 1}}, Timestamp: testNow},
	}
	a := newAnalyzer(books)

	_, err := a.Analyze(context.Background(), "OLD")
	assert.ErrorIs(t, err, domain.ErrStaleOrderBook)

	_, err = a.Analyze(context.Background(), "MISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = a.Analyze(context.Background(), "ONE")
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}
