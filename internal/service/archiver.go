package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// HistoryArchiver periodically uploads closed positions that have not been
// archived yet. The cursor only advances after a successful upload, so a
// failed run is retried with the same positions on the next tick.
type HistoryArchiver struct {
	book     *PositionBook
	archive  domain.Archiver
	audit    domain.AuditStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cursor int
}

// NewHistoryArchiver creates an archiver. audit may be nil.
func NewHistoryArchiver(book *PositionBook, archive domain.Archiver, audit domain.AuditStore, interval time.Duration, logger *slog.Logger) *HistoryArchiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HistoryArchiver{
		book:     book,
		archive:  archive,
		audit:    audit,
		interval: interval,
		logger:   logger.With(slog.String("component", "history_archiver")),
		now:      time.Now,
	}
}

// RunOnce archives the closed positions accumulated since the last
// successful run and returns how many were written.
func (a *HistoryArchiver) RunOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch, next := a.book.ClosedSince(a.cursor)
	if len(batch) == 0 {
		return 0, nil
	}
	key, err := a.archive.ArchiveClosed(ctx, batch, a.now())
	if err != nil {
		return 0, fmt.Errorf("archiver: upload %d positions: %w", len(batch), err)
	}
	a.cursor = next

	a.logger.InfoContext(ctx, "closed positions archived",
		slog.String("key", key),
		slog.Int("count", len(batch)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.closed_positions", map[string]any{
			"key":   key,
			"count": len(batch),
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit failed", slog.String("error", err.Error()))
		}
	}
	return len(batch), nil
}

// Run archives on every interval until ctx is cancelled, then makes one
// final pass.
func (a *HistoryArchiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", a.interval))
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if _, err := a.RunOnce(final); err != nil {
				a.logger.Error("final archive failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.WarnContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
