package service

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PositionEvent
}

func (r *recordingPublisher) Publish(evt domain.PositionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingPublisher) snapshot() []domain.PositionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PositionEvent(nil), r.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBook(cfg BookConfig) (*PositionBook, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewPositionBook(cfg, pub, discardLogger()), pub
}

func longSignal(symbol string, entry float64) domain.TradingSignal {
	return domain.TradingSignal{
		Symbol:          symbol,
		Direction:       domain.DirectionLong,
		EntryPrice:      entry,
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		TakeProfitPrice: entry * 1.02,
		StopLossPrice:   entry * 0.98,
		Reason:          "test",
	}
}

func shortSignal(symbol string, entry float64) domain.TradingSignal {
	sig := longSignal(symbol, entry)
	sig.Direction = domain.DirectionShort
	sig.TakeProfitPrice = entry * 0.98
	sig.StopLossPrice = entry * 1.02
	return sig
}

func TestPositionBook_OpenPosition(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})

	pos := book.OpenPosition(longSignal("BTCUSDT", 100))
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 100.0, pos.CurrentPrice)
	assert.Zero(t, pos.UnrealizedPnL)
	assert.Nil(t, pos.ClosedPrice)
	assert.Nil(t, pos.RealizedPnL)

	stats := book.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.OpenTrades)

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPositionOpened, events[0].Type)
	assert.Equal(t, pos.ID, events[0].Position.ID)
}

func TestPositionBook_LongTakeProfit(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	pos := book.OpenPosition(longSignal("BTCUSDT", 100))

	closed := book.Update("BTCUSDT", 102.5)
	require.Len(t, closed, 1)
	got := closed[0]
	assert.Equal(t, pos.ID, got.ID)
	assert.Equal(t, domain.PositionStatusClosedTP, got.Status)
	assert.Equal(t, domain.CloseReasonTakeProfit, got.CloseReason)
	require.NotNil(t, got.ClosedPrice)
	assert.Equal(t, 102.5, *got.ClosedPrice)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, 2.5, *got.RealizedPnL, 1e-9)
	require.NotNil(t, got.ClosedTime)

	assert.Empty(t, book.OpenPositions())
	assert.Len(t, book.ClosedHistory(), 1)

	stats := book.Stats()
	assert.Equal(t, 1, stats.WinTrades)
	assert.Equal(t, 0, stats.OpenTrades)
	assert.InDelta(t, 100, stats.WinRate, 1e-9)

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPositionClosed, events[1].Type)
	assert.False(t, events[1].Reversal)
}

func TestPositionBook_ThresholdsInclusive(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	sig := longSignal("ETHUSDT", 100)
	sig.TakeProfitPrice = 102
	sig.StopLossPrice = 98
	book.OpenPosition(sig)

	closed := book.Update("ETHUSDT", 98)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusClosedSL, closed[0].Status)
	assert.InDelta(t, -2.0, *closed[0].RealizedPnL, 1e-9)
	assert.Equal(t, 1, book.Stats().LossTrades)
}

func TestPositionBook_ShortTakeProfitAndStopLoss(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	book.OpenPosition(shortSignal("SOLUSDT", 100))

	assert.Empty(t, book.Update("SOLUSDT", 99))
	open := book.OpenPositions()
	require.Len(t, open, 1)
	assert.InDelta(t, 1.0, open[0].UnrealizedPnL, 1e-9)

	closed := book.Update("SOLUSDT", 97)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusClosedTP, closed[0].Status)
	assert.InDelta(t, 3.0, *closed[0].RealizedPnL, 1e-9)

	book.OpenPosition(shortSignal("SOLUSDT", 100))
	closed = book.Update("SOLUSDT", 103)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusClosedSL, closed[0].Status)
}

func TestPositionBook_TakeProfitWinsWhenBothCrossed(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	sig := longSignal("XRPUSDT", 100)
	// Degenerate levels so one price crosses both.
	sig.TakeProfitPrice = 99
	sig.StopLossPrice = 101
	book.OpenPosition(sig)

	closed := book.Update("XRPUSDT", 100)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusClosedTP, closed[0].Status)
}

func TestPositionBook_UpdateOtherSymbolIgnored(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	book.OpenPosition(longSignal("BTCUSDT", 100))

	assert.Empty(t, book.Update("ETHUSDT", 500))
	open := book.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, 100.0, open[0].CurrentPrice)
	assert.Len(t, pub.snapshot(), 1)
}

func TestPositionBook_CloseErrors(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})

	_, err := book.Close("missing", 1, "x", domain.PositionStatusClosedSL)
	assert.ErrorIs(t, err, domain.ErrUnknownPosition)

	pos := book.OpenPosition(longSignal("BTCUSDT", 100))
	_, err = book.Close(pos.ID, 101, "manual", domain.PositionStatusOpen)
	assert.Error(t, err)

	closed, err := book.Close(pos.ID, 101, "manual", domain.PositionStatusClosedTP)
	require.NoError(t, err)
	assert.Equal(t, "manual", closed.CloseReason)

	_, err = book.Close(pos.ID, 101, "again", domain.PositionStatusClosedTP)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
	_, err = book.CloseByReversal(pos.ID, 101, "again")
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
	assert.Len(t, book.ClosedHistory(), 1)
}

func TestPositionBook_CloseByReversal(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	pos := book.OpenPosition(longSignal("BTCUSDT", 100))

	closed, err := book.CloseByReversal(pos.ID, 101, "trend reversal: LONG -> SHORT")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosedSL, closed.Status, "reversal always closes as stop loss")
	assert.InDelta(t, 1.0, *closed.RealizedPnL, 1e-9)
	assert.InDelta(t, 1.0, closed.UnrealizedPnL, 1e-9)
	assert.Equal(t, "trend reversal: LONG -> SHORT", closed.CloseReason)

	stats := book.Stats()
	assert.Equal(t, 1, stats.WinTrades, "positive reversal pnl counts as a win")

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.True(t, events[1].Reversal)
}

func TestPositionBook_CanOpen(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1, MaxTotalPositions: 2})

	assert.True(t, book.CanOpen("BTCUSDT"))
	book.OpenPosition(longSignal("BTCUSDT", 100))
	assert.False(t, book.CanOpen("BTCUSDT"))
	assert.True(t, book.CanOpen("ETHUSDT"))

	book.OpenPosition(longSignal("ETHUSDT", 10))
	assert.False(t, book.CanOpen("SOLUSDT"), "total ceiling reached")

	book.Update("BTCUSDT", 200)
	assert.True(t, book.CanOpen("BTCUSDT"))
}

func TestPositionBook_TryOpenPositionHonoursTotalCeiling(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1, MaxTotalPositions: 3})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			book.TryOpenPosition(longSignal(fmt.Sprintf("SYM%d", i), 100))
		}(i)
	}
	wg.Wait()

	assert.Len(t, book.OpenPositions(), 3)
	assert.Equal(t, 3, book.Stats().TotalTrades)
	assert.Len(t, pub.snapshot(), 3, "rejected opens publish nothing")

	_, ok := book.TryOpenPosition(longSignal("SYM0", 100))
	assert.False(t, ok)
}

func TestPositionBook_OpenPositionsIsolation(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	book.OpenPosition(longSignal("BTCUSDT", 100))
	book.OpenPosition(shortSignal("ETHUSDT", 10))

	first := book.OpenPositions()
	second := book.OpenPositions()
	require.Len(t, first, 2)
	assert.Equal(t, first, second)

	first[0].StopLossPrice = 1
	first[0].Status = domain.PositionStatusClosedTP

	assert.NotEqual(t, first[0].StopLossPrice, second[0].StopLossPrice)
	assert.Equal(t, domain.PositionStatusOpen, second[0].Status)
	assert.Len(t, second, 2)

	third := book.OpenPositions()
	assert.Equal(t, second, third)
}

func TestPositionBook_QueriesReturnCopies(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 2})
	first := book.OpenPosition(longSignal("BTCUSDT", 100))
	later := longSignal("BTCUSDT", 105)
	later.Timestamp = later.Timestamp.Add(time.Minute)
	book.OpenPosition(later)

	open := book.OpenPositionsFor("BTCUSDT")
	require.Len(t, open, 2)
	open[0].TakeProfitPrice = 1

	got, ok := book.PositionBySymbol("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.TakeProfitPrice, got.TakeProfitPrice)

	_, ok = book.PositionBySymbol("DOGEUSDT")
	assert.False(t, ok)
}

func TestPositionBook_ClosedSince(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	book.OpenPosition(longSignal("BTCUSDT", 100))
	book.Update("BTCUSDT", 110)

	batch, next := book.ClosedSince(0)
	assert.Len(t, batch, 1)
	assert.Equal(t, 1, next)

	batch, next = book.ClosedSince(next)
	assert.Empty(t, batch)
	assert.Equal(t, 1, next)
}

func TestPositionBook_StatsInvariantUnderLoad(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	symbols := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				book.OpenPosition(longSignal(sym, 100))
				if i%2 == 0 {
					book.Update(sym, 103)
				} else {
					book.Update(sym, 97)
				}
			}
		}(sym)
	}
	wg.Wait()

	s := book.Stats()
	assert.Equal(t, 200, s.TotalTrades)
	assert.Equal(t, s.TotalTrades, s.OpenTrades+s.ClosedTrades)
	assert.Equal(t, s.ClosedTrades, s.WinTrades+s.LossTrades)
	assert.Equal(t, 100, s.WinTrades)
}
