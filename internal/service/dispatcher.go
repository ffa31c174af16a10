package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

const (
	defaultEventBuffer    = 256
	defaultHandlerTimeout = 10 * time.Second
)

// EventHandler consumes position events off the dispatcher.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, evt domain.PositionEvent) error
}

// Dispatcher decouples position state transitions from their side effects.
// Publish never blocks; Run delivers each event to every handler.
type Dispatcher struct {
	events   chan domain.PositionEvent
	handlers []EventHandler
	timeout  time.Duration
	logger   *slog.Logger
	dropped  atomic.Int64
}

var _ domain.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with the given buffer size and per
// handler timeout. Zero values select the defaults.
func NewDispatcher(buffer int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &Dispatcher{
		events:  make(chan domain.PositionEvent, buffer),
		timeout: timeout,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Register adds handlers. It must be called before Run.
func (d *Dispatcher) Register(handlers ...EventHandler) {
	d.handlers = append(d.handlers, handlers...)
}

// Publish enqueues evt. When the buffer is full the event is dropped.
func (d *Dispatcher) Publish(evt domain.PositionEvent) {
	select {
	case d.events <- evt:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("event buffer full, dropping event",
			slog.String("event", string(evt.Type)),
			slog.String("position_id", evt.Position.ID),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns the number of events dropped so far.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers events until ctx is cancelled, then drains whatever is still
// buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return nil
		case evt := <-d.events:
			d.deliver(ctx, evt)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case evt := <-d.events:
			d.deliver(ctx, evt)
		default:
			return
		}
	}
}

// deliver fans evt out to every handler. Handler failures are logged only.
func (d *Dispatcher) deliver(ctx context.Context, evt domain.PositionEvent) {
	var g errgroup.Group
	for _, h := range d.handlers {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := h.Handle(hctx, evt); err != nil {
				d.logger.WarnContext(ctx, "event handler failed",
					slog.String("handler", h.Name()),
					slog.String("event", string(evt.Type)),
					slog.String("position_id", evt.Position.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
