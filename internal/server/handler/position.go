package handler

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// PositionReader is the read side of the position book.
type PositionReader interface {
	OpenPositions() []domain.Position
	OpenPositionsFor(symbol string) []domain.Position
	ClosedHistory() []domain.Position
	Stats() domain.TradingStats
}

// PositionHandler serves the position and stats endpoints.
type PositionHandler struct {
	book PositionReader
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(book PositionReader) *PositionHandler {
	return &PositionHandler{book: book}
}

type positionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

func respondPositions(w http.ResponseWriter, ps []domain.Position) {
	if ps == nil {
		ps = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positionsResponse{Positions: ps, Count: len(ps)})
}

// ListOpen returns open positions, optionally for one symbol.
// GET /api/positions?symbol=BTCUSDT
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	if symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))); symbol != "" {
		respondPositions(w, h.book.OpenPositionsFor(symbol))
		return
	}
	respondPositions(w, h.book.OpenPositions())
}

// ListClosed returns the closed history in close order.
// GET /api/positions/closed
func (h *PositionHandler) ListClosed(w http.ResponseWriter, _ *http.Request) {
	respondPositions(w, h.book.ClosedHistory())
}

// GetStats returns the aggregate trade statistics.
// GET /api/stats
func (h *PositionHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.book.Stats())
}
