package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// Bus channel and stream names for position events.
const (
	PositionsChannel = "positions"
	PositionsStream  = "positions:log"
)

// SinkHandler writes signal records to every persistence sink.
type SinkHandler struct {
	sinks []domain.PersistenceSink
}

// NewSinkHandler creates a handler over sinks.
func NewSinkHandler(sinks ...domain.PersistenceSink) *SinkHandler {
	return &SinkHandler{sinks: sinks}
}

func (h *SinkHandler) Name() string { return "sink" }

// Handle appends the record to each sink. One failing sink does not stop
// the others.
func (h *SinkHandler) Handle(ctx context.Context, evt domain.PositionEvent) error {
	rec := domain.RecordFromEvent(evt)
	var errs []error
	for _, s := range h.sinks {
		var err error
		switch evt.Type {
		case domain.EventPositionOpened:
			err = s.RecordOpened(ctx, rec)
		case domain.EventPositionClosed:
			err = s.RecordClosed(ctx, rec)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AuditHandler writes audit rows for position events and a stats summary
// every N closes.
type AuditHandler struct {
	store      domain.AuditStore
	statsEvery int
}

// NewAuditHandler creates an audit handler. statsEvery of zero disables the
// summary rows.
func NewAuditHandler(store domain.AuditStore, statsEvery int) *AuditHandler {
	return &AuditHandler{store: store, statsEvery: statsEvery}
}

func (h *AuditHandler) Name() string { return "audit" }

func (h *AuditHandler) Handle(ctx context.Context, evt domain.PositionEvent) error {
	p := evt.Position
	detail := map[string]any{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"direction":   string(p.Direction),
		"entry_price": p.EntryPrice,
		"take_profit": p.TakeProfitPrice,
		"stop_loss":   p.StopLossPrice,
		"overall":     p.Confirmation.Overall,
	}
	if evt.Type == domain.EventPositionClosed {
		detail["status"] = string(p.Status)
		detail["close_reason"] = p.CloseReason
		detail["reversal"] = evt.Reversal
		if p.ClosedPrice != nil {
			detail["closed_price"] = *p.ClosedPrice
		}
		if p.RealizedPnL != nil {
			detail["realized_pnl"] = *p.RealizedPnL
		}
	} else {
		detail["trigger_reason"] = p.TriggerReason
	}
	if err := h.store.Log(ctx, string(evt.Type), detail); err != nil {
		return fmt.Errorf("audit: log %s: %w", evt.Type, err)
	}

	s := evt.Stats
	if evt.Type != domain.EventPositionClosed || h.statsEvery <= 0 || s.ClosedTrades%h.statsEvery != 0 {
		return nil
	}
	summary := map[string]any{
		"total_trades":  s.TotalTrades,
		"open_trades":   s.OpenTrades,
		"closed_trades": s.ClosedTrades,
		"win_trades":    s.WinTrades,
		"loss_trades":   s.LossTrades,
		"win_rate":      s.WinRate,
		"total_pnl":     s.TotalPnL,
		"average_pnl":   s.AveragePnL,
		"max_win":       s.MaxWin,
		"max_loss":      s.MaxLoss,
	}
	if err := h.store.Log(ctx, "stats_summary", summary); err != nil {
		return fmt.Errorf("audit: log stats_summary: %w", err)
	}
	return nil
}

// BusHandler relays events onto the signal bus for live subscribers and
// appends them to a durable stream.
type BusHandler struct {
	bus domain.SignalBus
}

// NewBusHandler creates a bus relay.
func NewBusHandler(bus domain.SignalBus) *BusHandler {
	return &BusHandler{bus: bus}
}

func (h *BusHandler) Name() string { return "bus" }

func (h *BusHandler) Handle(ctx context.Context, evt domain.PositionEvent) error {
	payload, err := sonic.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	var errs []error
	if err := h.bus.Publish(ctx, PositionsChannel, payload); err != nil {
		errs = append(errs, err)
	}
	if err := h.bus.StreamAppend(ctx, PositionsStream, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Notifier delivers filtered human-readable notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifyHandler turns position events into operator notifications.
type NotifyHandler struct {
	notifier Notifier
}

// NewNotifyHandler creates a notification handler.
func NewNotifyHandler(n Notifier) *NotifyHandler {
	return &NotifyHandler{notifier: n}
}

func (h *NotifyHandler) Name() string { return "notify" }

func (h *NotifyHandler) Handle(ctx context.Context, evt domain.PositionEvent) error {
	title, msg := NotificationText(evt)
	return h.notifier.Notify(ctx, string(evt.Type), title, msg)
}

// NotificationText renders the title and body for a position event.
func NotificationText(evt domain.PositionEvent) (string, string) {
	p := evt.Position
	var b strings.Builder
	switch evt.Type {
	case domain.EventPositionOpened:
		confirm := "partial confirmation"
		if p.Confirmation.Overall {
			confirm = "full confirmation"
		}
		fmt.Fprintf(&b, "%s %s @ %s\n", p.Direction, p.Symbol, FormatPrice(p.EntryPrice))
		fmt.Fprintf(&b, "TP %s | SL %s\n", FormatPrice(p.TakeProfitPrice), FormatPrice(p.StopLossPrice))
		fmt.Fprintf(&b, "%s\n%s", confirm, p.TriggerReason)
		return fmt.Sprintf("Position opened: %s", p.Symbol), b.String()
	default:
		var pnl float64
		if p.RealizedPnL != nil {
			pnl = *p.RealizedPnL
		}
		exit := p.CurrentPrice
		if p.ClosedPrice != nil {
			exit = *p.ClosedPrice
		}
		fmt.Fprintf(&b, "%s %s %s -> %s (%+.2f%%)\n", p.Direction, p.Symbol, FormatPrice(p.EntryPrice), FormatPrice(exit), pnl)
		fmt.Fprintf(&b, "%s: %s\n", p.Status, p.CloseReason)
		s := evt.Stats
		fmt.Fprintf(&b, "closed %d | win rate %.1f%% | total %+.2f%%", s.ClosedTrades, s.WinRate, s.TotalPnL)
		return fmt.Sprintf("Position closed: %s", p.Symbol), b.String()
	}
}

var (
	_ EventHandler = (*SinkHandler)(nil)
	_ EventHandler = (*AuditHandler)(nil)
	_ EventHandler = (*BusHandler)(nil)
	_ EventHandler = (*NotifyHandler)(nil)
)
