package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sidewaysbot/internal/analysis"
	"github.com/alanyoungcy/sidewaysbot/internal/domain"
	"github.com/alanyoungcy/sidewaysbot/internal/feed"
	"github.com/alanyoungcy/sidewaysbot/internal/server"
	"github.com/alanyoungcy/sidewaysbot/internal/server/handler"
	"github.com/alanyoungcy/sidewaysbot/internal/server/ws"
	"github.com/alanyoungcy/sidewaysbot/internal/service"
	"github.com/alanyoungcy/sidewaysbot/internal/strategy"
	"github.com/alanyoungcy/sidewaysbot/internal/stream/kafka"
)

const (
	instanceLockKey = "sidewaysbot:instance"
	leaseTTL        = 30 * time.Second
	leaseRenewEvery = 10 * time.Second
)

// core holds the in-process components shared by every mode.
type core struct {
	dispatcher *service.Dispatcher
	book       *service.PositionBook
	trend      *analysis.TrendTracker
	orderBook  *analysis.OrderBookAnalyzer
	generator  *strategy.SignalGenerator
	lifecycle  *service.Lifecycle
}

func (a *App) buildCore(deps *Dependencies) *core {
	cfg := a.cfg
	c := &core{}
	c.dispatcher = service.NewDispatcher(cfg.Events.Buffer, cfg.Events.HandlerTimeout.Duration, a.logger)
	c.book = service.NewPositionBook(service.BookConfig{
		MaxPositionsPerSymbol: cfg.Trading.MaxPositionsPerSymbol,
		MaxTotalPositions:     cfg.Trading.MaxTotalPositions,
		StatsLogEvery:         cfg.Trading.StatsLogEvery,
	}, c.dispatcher, a.logger)
	c.trend = analysis.NewTrendTracker(analysis.TrendConfig{
		Symbol:             cfg.Trend.ReferenceSymbol,
		FastPeriod:         cfg.Trend.FastPeriod,
		SlowPeriod:         cfg.Trend.SlowPeriod,
		NeutralBandPercent: cfg.Trend.NeutralBandPercent,
	}, a.logger)
	c.orderBook = analysis.NewOrderBookAnalyzer(analysis.OrderBookConfig{
		Depth:          cfg.OrderBook.Depth,
		RatioThreshold: cfg.OrderBook.RatioThreshold,
		MaxAge:         cfg.OrderBook.MaxAge.Duration,
	}, deps.BookCache)
	c.generator = strategy.NewSignalGenerator(strategy.SidewaysConfig{
		Enabled:           cfg.Trading.Enabled,
		TakeProfitPercent: cfg.Trading.TakeProfitPercent,
		StopLossPercent:   cfg.Trading.StopLossPercent,
		Policy:            domain.ConfirmationPolicy(strings.ToUpper(cfg.Trading.ConfirmationPolicy)),
		OrderBookTimeout:  cfg.Trading.OrderBookTimeout.Duration,
	}, c.book, c.trend, c.orderBook, a.logger)
	c.lifecycle = service.NewLifecycle(c.book, c.generator, a.logger)
	return c
}

// registerHandlers subscribes the event consumers that have a backend.
func (a *App) registerHandlers(c *core, deps *Dependencies) {
	if sinks := deps.Sinks(); len(sinks) > 0 {
		c.dispatcher.Register(service.NewSinkHandler(sinks...))
	}
	if deps.AuditStore != nil {
		c.dispatcher.Register(service.NewAuditHandler(deps.AuditStore, a.cfg.Trading.StatsLogEvery))
	}
	if deps.SignalBus != nil {
		c.dispatcher.Register(service.NewBusHandler(deps.SignalBus))
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		c.dispatcher.Register(service.NewNotifyHandler(deps.Notifier))
	}
}

// tickHandler routes one market tick to the price cache, the trend tracker
// and, when trading, the position book.
func (a *App) tickHandler(c *core, deps *Dependencies, trading bool) feed.TickHandler {
	return func(ctx context.Context, symbol string, price float64, ts time.Time) {
		if err := deps.PriceCache.SetPrice(ctx, symbol, price, ts); err != nil {
			a.logger.DebugContext(ctx, "price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		if symbol == c.trend.Symbol() {
			c.trend.Observe(price, ts)
		}
		if trading {
			c.lifecycle.HandleTick(ctx, symbol, price)
		}
	}
}

func (a *App) depthHandler(deps *Dependencies) feed.DepthHandler {
	return func(ctx context.Context, snap domain.OrderbookSnapshot) {
		if err := deps.BookCache.SetSnapshot(ctx, snap); err != nil {
			a.logger.DebugContext(ctx, "book cache write failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// feedSymbols returns the configured symbols plus the trend reference.
func (a *App) feedSymbols() []string {
	out := make([]string, 0, len(a.cfg.Feed.Symbols)+1)
	for _, s := range a.cfg.Feed.Symbols {
		out = append(out, strings.ToUpper(s))
	}
	if ref := strings.ToUpper(a.cfg.Trend.ReferenceSymbol); ref != "" && !slices.Contains(out, ref) {
		out = append(out, ref)
	}
	return out
}

func (a *App) marketFeed(c *core, deps *Dependencies, trading bool) *feed.MarketFeed {
	return feed.NewMarketFeed(feed.MarketConfig{
		URL:         a.cfg.Feed.WSURL,
		Symbols:     a.feedSymbols(),
		DepthLevels: a.cfg.Feed.DepthLevels,
	}, a.tickHandler(c, deps, trading), a.depthHandler(deps), a.logger)
}

// startServer adds the HTTP API and the event relay to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}
	hub := ws.NewHub(deps.SignalBus, service.PositionsChannel, func() any {
		return map[string]any{
			"positions": c.book.OpenPositions(),
			"stats":     c.book.Stats(),
		}
	}, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Pingers),
		Status: handler.NewStatusHandler(a.cfg.Mode, handler.TradingInfo{
			Enabled:               a.cfg.Trading.Enabled,
			TakeProfitPercent:     a.cfg.Trading.TakeProfitPercent,
			StopLossPercent:       a.cfg.Trading.StopLossPercent,
			MaxPositionsPerSymbol: a.cfg.Trading.MaxPositionsPerSymbol,
			MaxTotalPositions:     a.cfg.Trading.MaxTotalPositions,
			ConfirmationPolicy:    string(c.generator.Policy()),
		}, c.trend, a.startedAt),
		Positions: handler.NewPositionHandler(c.book),
		Logs:      handler.NewLogHandler(deps.SignalStore, deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
}

// TradeMode runs the full pipeline: market feed, pattern source, position
// lifecycle, event sinks, archiver and API, under a single-instance lease.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	lease, err := deps.LockManager.Acquire(ctx, instanceLockKey, leaseTTL)
	if err != nil {
		return fmt.Errorf("app: acquire instance lease: %w", err)
	}
	defer lease.Release()
	a.logger.InfoContext(ctx, "instance lease acquired", slog.String("key", instanceLockKey))

	c := a.buildCore(deps)
	a.registerHandlers(c, deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.holdLease(ctx, lease) })
	g.Go(func() error { return c.dispatcher.Run(ctx) })
	g.Go(func() error { return a.marketFeed(c, deps, true).Run(ctx) })

	router := feed.NewPatternRouter(deps.PriceCache, c.lifecycle, a.logger)
	switch a.cfg.Patterns.Source {
	case "kafka":
		consumer := kafka.NewPatternConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.PatternsTopic, a.cfg.Kafka.GroupID, router, a.logger)
		g.Go(func() error { return consumer.Run(ctx) })
	default:
		stream := feed.NewPatternStream(deps.SignalBus, a.cfg.Patterns.Stream, router, a.logger)
		g.Go(func() error { return stream.Run(ctx) })
	}

	if deps.Archive != nil {
		archiver := service.NewHistoryArchiver(c.book, deps.Archive, deps.AuditStore, a.cfg.Archive.Interval.Duration, a.logger)
		g.Go(func() error { return archiver.Run(ctx) })
	}

	a.startServer(ctx, g, c, deps)

	a.logger.InfoContext(ctx, "trade mode running",
		slog.String("policy", string(c.generator.Policy())),
		slog.String("pattern_source", a.cfg.Patterns.Source),
		slog.Any("symbols", a.feedSymbols()),
	)
	return g.Wait()
}

// MonitorMode streams prices, depth and trend into the caches and serves the
// API. No patterns are consumed, so no positions open.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	c := a.buildCore(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.marketFeed(c, deps, false).Run(ctx) })
	a.startServer(ctx, g, c, deps)

	a.logger.InfoContext(ctx, "monitor mode running", slog.Any("symbols", a.feedSymbols()))
	return g.Wait()
}

// holdLease renews the instance lease until ctx ends. Losing the lease
// returns an error, which cancels the rest of the run.
func (a *App) holdLease(ctx context.Context, lease domain.Lease) error {
	ticker := time.NewTicker(a.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := lease.Extend(ctx, leaseTTL)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, domain.ErrLeaseLost):
				a.logger.ErrorContext(ctx, "instance lease lost, stopping")
				return fmt.Errorf("app: %w", err)
			default:
				a.logger.WarnContext(ctx, "lease renewal failed", slog.String("error", err.Error()))
			}
		}
	}
}
