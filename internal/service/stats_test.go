package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsAggregator_Empty(t *testing.T) {
	s := NewStatsAggregator().Snapshot()
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.AveragePnL)
}

func TestStatsAggregator_WinsAndLosses(t *testing.T) {
	agg := NewStatsAggregator()
	for i := 0; i < 4; i++ {
		agg.RecordOpen()
	}
	agg.RecordClose(2)
	agg.RecordClose(-2)
	agg.RecordClose(0)

	s := agg.Snapshot()
	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 1, s.OpenTrades)
	assert.Equal(t, 3, s.ClosedTrades)
	assert.Equal(t, 1, s.WinTrades)
	assert.Equal(t, 2, s.LossTrades, "zero pnl counts as a loss")
	assert.InDelta(t, 33.333, s.WinRate, 0.01)
	assert.InDelta(t, 0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 0, s.AveragePnL, 1e-9)
	assert.Equal(t, 2.0, s.MaxWin)
	assert.Equal(t, -2.0, s.MaxLoss)
	assert.Equal(t, s.TotalTrades, s.OpenTrades+s.ClosedTrades)
	assert.Equal(t, s.ClosedTrades, s.WinTrades+s.LossTrades)
}

func TestStatsAggregator_ThreeWinsTwoLosses(t *testing.T) {
	agg := NewStatsAggregator()
	pnls := []float64{2, -2, 1.5, -1, 3}
	for range pnls {
		agg.RecordOpen()
	}
	for _, p := range pnls {
		agg.RecordClose(p)
	}

	s := agg.Snapshot()
	total := 2 + 1.5 + 3 - 2 - 1.0
	assert.Equal(t, 5, s.ClosedTrades)
	assert.Equal(t, 3, s.WinTrades)
	assert.Equal(t, 2, s.LossTrades)
	assert.InDelta(t, 60.0, s.WinRate, 1e-9)
	assert.InDelta(t, total, s.TotalPnL, 1e-9)
	assert.InDelta(t, total/5, s.AveragePnL, 1e-9)
	assert.Equal(t, 3.0, s.MaxWin)
	assert.Equal(t, -2.0, s.MaxLoss)
}

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		50000:    "50000.00",
		1234.5:   "1234.50",
		2.5:      "2.5000",
		0.05:     "0.050000",
		0.000012: "0.00001200",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatPrice(in), "price %v", in)
	}
}
