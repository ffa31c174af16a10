// Package feed connects the bot to its inputs: the exchange market stream
// and the pattern sources.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TickHandler receives the last traded price of a symbol.
type TickHandler func(ctx context.Context, symbol string, price float64, ts time.Time)

// DepthHandler receives a partial depth snapshot.
type DepthHandler func(ctx context.Context, snap domain.OrderbookSnapshot)

// MarketConfig selects the stream endpoint and symbols.
type MarketConfig struct {
	// URL is the combined stream base, e.g. wss://stream.binance.com:9443/stream.
	URL     string
	Symbols []string
	// DepthLevels is 5, 10 or 20.
	DepthLevels int
}

// MarketFeed streams mini tickers and partial depth for a set of symbols over
// one combined WebSocket and reconnects with exponential backoff.
type MarketFeed struct {
	cfg     MarketConfig
	onTick  TickHandler
	onDepth DepthHandler
	logger  *slog.Logger
	dialer  websocket.Dialer
}

// NewMarketFeed creates a feed. Either handler may be nil.
func NewMarketFeed(cfg MarketConfig, onTick TickHandler, onDepth DepthHandler, logger *slog.Logger) *MarketFeed {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	return &MarketFeed{
		cfg:     cfg,
		onTick:  onTick,
		onDepth: onDepth,
		logger:  logger.With(slog.String("component", "market_feed")),
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// StreamURL builds the combined stream URL for cfg.
func StreamURL(cfg MarketConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("feed: parse url: %w", err)
	}
	streams := make([]string, 0, 2*len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.ToLower(s)
		streams = append(streams, s+"@miniTicker", fmt.Sprintf("%s@depth%d@100ms", s, cfg.DepthLevels))
	}
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run keeps a connection open until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.InfoContext(ctx, "no symbols configured, market feed idle")
		<-ctx.Done()
		return nil
	}
	target, err := StreamURL(f.cfg)
	if err != nil {
		return err
	}

	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx, target)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "market stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *MarketFeed) runConnection(ctx context.Context, target string) error {
	conn, _, err := f.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()
	f.logger.InfoContext(ctx, "market stream connected", slog.Int("symbols", len(f.cfg.Symbols)))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var (
		wg   sync.WaitGroup
		done = make(chan struct{})
	)
	defer func() {
		close(done)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.pingLoop(ctx, conn, done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := f.handleMessage(ctx, raw); err != nil {
			f.logger.DebugContext(ctx, "skipping market message", slog.String("error", err.Error()))
		}
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the
// blocked read returns.
func (f *MarketFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// miniTicker frames carry both "e" and "E" and keys match
// case-insensitively, so each gets its own field.
type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type partialDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (f *MarketFeed) handleMessage(ctx context.Context, raw []byte) error {
	var msg combinedMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	symbol, kind, ok := strings.Cut(msg.Stream, "@")
	if !ok {
		return fmt.Errorf("unexpected stream %q", msg.Stream)
	}
	symbol = strings.ToUpper(symbol)

	switch {
	case kind == "miniTicker":
		var t miniTicker
		if err := sonic.Unmarshal(msg.Data, &t); err != nil {
			return fmt.Errorf("decode ticker: %w", err)
		}
		price, err := strconv.ParseFloat(t.Close, 64)
		if err != nil || price <= 0 {
			return fmt.Errorf("bad ticker price %q", t.Close)
		}
		ts := time.UnixMilli(t.EventTime)
		if t.EventTime == 0 {
			ts = time.Now()
		}
		if f.onTick != nil {
			f.onTick(ctx, symbol, price, ts)
		}
	case strings.HasPrefix(kind, "depth"):
		var d partialDepth
		if err := sonic.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("decode depth: %w", err)
		}
		snap := domain.OrderbookSnapshot{
			Symbol:    symbol,
			Bids:      parseLevels(d.Bids),
			Asks:      parseLevels(d.Asks),
			Timestamp: time.Now().UTC(),
		}
		if len(snap.Bids) > 0 {
			snap.BestBid = snap.Bids[0].Price
		}
		if len(snap.Asks) > 0 {
			snap.BestAsk = snap.Asks[0].Price
		}
		if snap.BestBid > 0 && snap.BestAsk > 0 {
			snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
		}
		if f.onDepth != nil {
			f.onDepth(ctx, snap)
		}
	default:
		return fmt.Errorf("unhandled stream %q", msg.Stream)
	}
	return nil
}

func parseLevels(raw [][2]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err1 := strconv.ParseFloat(l[0], 64)
		size, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}
