package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

type signalFunc func(ctx context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error)

func (f signalFunc) Evaluate(ctx context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
	return f(ctx, p, price)
}

func longAt(p domain.SidewaysPattern, price float64) *domain.TradingSignal {
	sig := longSignal(p.Symbol, price)
	sig.TakeProfitPrice = price * 1.02
	sig.StopLossPrice = price * 0.98
	return &sig
}

func TestLifecycle_HandlePatternOpens(t *testing.T) {
	book, pub := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	lc := NewLifecycle(book, signalFunc(func(_ context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
		return longAt(p, price), nil
	}), discardLogger())

	pos, err := lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: "BTCUSDT"}, 100)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Len(t, book.OpenPositions(), 1)
	assert.Len(t, pub.snapshot(), 1)
}

func TestLifecycle_HandlePatternRejected(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	lc := NewLifecycle(book, signalFunc(func(context.Context, domain.SidewaysPattern, float64) (*domain.TradingSignal, error) {
		return nil, nil
	}), discardLogger())

	pos, err := lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: "BTCUSDT"}, 100)
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, book.OpenPositions())
}

func TestLifecycle_HandlePatternPropagatesBookkeepingErrors(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	lc := NewLifecycle(book, signalFunc(func(context.Context, domain.SidewaysPattern, float64) (*domain.TradingSignal, error) {
		return nil, fmt.Errorf("reverse x: %w", domain.ErrPositionNotOpen)
	}), discardLogger())

	_, err := lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: "BTCUSDT"}, 100)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
}

func TestLifecycle_HandleTick(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	lc := NewLifecycle(book, signalFunc(func(_ context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
		return longAt(p, price), nil
	}), discardLogger())

	_, err := lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: "BTCUSDT"}, 100)
	require.NoError(t, err)

	assert.Nil(t, lc.HandleTick(context.Background(), "BTCUSDT", -1))
	assert.Empty(t, lc.HandleTick(context.Background(), "BTCUSDT", 101))
	closed := lc.HandleTick(context.Background(), "BTCUSDT", 103)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.PositionStatusClosedTP, closed[0].Status)
}

func TestLifecycle_SerializesPerSymbol(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1})
	var (
		mu     sync.Mutex
		active = map[string]int{}
		maxPar int
	)
	lc := NewLifecycle(book, signalFunc(func(_ context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
		mu.Lock()
		active[p.Symbol]++
		if active[p.Symbol] > maxPar {
			maxPar = active[p.Symbol]
		}
		mu.Unlock()
		var sig *domain.TradingSignal
		if book.CanOpen(p.Symbol) {
			sig = longAt(p, price)
		}
		mu.Lock()
		active[p.Symbol]--
		mu.Unlock()
		return sig, nil
	}), discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := []string{"BTCUSDT", "ETHUSDT"}[i%2]
			_, _ = lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: sym}, 100)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxPar)
	assert.Len(t, book.OpenPositionsFor("BTCUSDT"), 1)
	assert.Len(t, book.OpenPositionsFor("ETHUSDT"), 1)
}

func TestLifecycle_TotalCeilingAcrossSymbols(t *testing.T) {
	book, _ := newTestBook(BookConfig{MaxPositionsPerSymbol: 1, MaxTotalPositions: 2})
	lc := NewLifecycle(book, signalFunc(func(_ context.Context, p domain.SidewaysPattern, price float64) (*domain.TradingSignal, error) {
		return longAt(p, price), nil
	}), discardLogger())

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pos, err := lc.HandlePattern(context.Background(), domain.SidewaysPattern{Symbol: fmt.Sprintf("SYM%d", i)}, 100)
			assert.NoError(t, err)
			if pos != nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, opened)
	assert.Len(t, book.OpenPositions(), 2)
}
