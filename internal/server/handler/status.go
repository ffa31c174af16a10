package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// TradingInfo is the static trading configuration shown on the status page.
type TradingInfo struct {
	Enabled               bool    `json:"enabled"`
	TakeProfitPercent     float64 `json:"take_profit_percent"`
	StopLossPercent       float64 `json:"stop_loss_percent"`
	MaxPositionsPerSymbol int     `json:"max_positions_per_symbol"`
	MaxTotalPositions     int     `json:"max_total_positions"`
	ConfirmationPolicy    string  `json:"confirmation_policy"`
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	trading   TradingInfo
	trend     domain.TrendOracle
	startedAt time.Time
}

// NewStatusHandler creates a status handler. trend may be nil.
func NewStatusHandler(mode string, trading TradingInfo, trend domain.TrendOracle, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, trading: trading, trend: trend, startedAt: startedAt}
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	trend := domain.TrendState{Trend: domain.TrendUnknown}
	if h.trend != nil {
		trend = h.trend.CurrentTrend()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"trading":        h.trading,
		"trend":          trend,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
