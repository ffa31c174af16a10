package service

import "github.com/alanyoungcy/sidewaysbot/internal/domain"

// StatsAggregator maintains trade statistics incrementally. It is not safe
// for concurrent use; PositionBook guards it.
type StatsAggregator struct {
	totalTrades  int
	openTrades   int
	closedTrades int
	winTrades    int
	lossTrades   int
	totalPnL     float64
	maxWin       float64
	maxLoss      float64
}

// NewStatsAggregator returns an aggregator with all counters at zero.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// RecordOpen counts a newly opened trade.
func (s *StatsAggregator) RecordOpen() {
	s.totalTrades++
	s.openTrades++
}

// RecordClose counts a closed trade with the given realized PnL percentage.
// Zero PnL counts as a loss.
func (s *StatsAggregator) RecordClose(realizedPnL float64) {
	s.openTrades--
	s.closedTrades++
	if realizedPnL > 0 {
		s.winTrades++
		if realizedPnL > s.maxWin {
			s.maxWin = realizedPnL
		}
	} else {
		s.lossTrades++
		if realizedPnL < s.maxLoss {
			s.maxLoss = realizedPnL
		}
	}
	s.totalPnL += realizedPnL
}

// Snapshot returns the current statistics with derived fields filled in.
func (s *StatsAggregator) Snapshot() domain.TradingStats {
	out := domain.TradingStats{
		TotalTrades:  s.totalTrades,
		OpenTrades:   s.openTrades,
		ClosedTrades: s.closedTrades,
		WinTrades:    s.winTrades,
		LossTrades:   s.lossTrades,
		TotalPnL:     s.totalPnL,
		MaxWin:       s.maxWin,
		MaxLoss:      s.maxLoss,
	}
	if s.closedTrades > 0 {
		out.WinRate = float64(s.winTrades) / float64(s.closedTrades) * 100
		out.AveragePnL = s.totalPnL / float64(s.closedTrades)
	}
	return out
}
