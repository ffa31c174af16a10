package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// SignalStore is the append-only signal log in trade_signals. Opens and
// closes are separate rows, as in a spreadsheet log.
type SignalStore struct {
	pool *pgxpool.Pool
}

var _ domain.SignalStore = (*SignalStore)(nil)

// NewSignalStore creates a store over pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `position_id, event, signal_date, symbol, vp, trend, order_book, overall,
	open_price, side, take_profit, stop_loss, result, recorded_at`

// RecordOpened appends the row for an opened position.
func (s *SignalStore) RecordOpened(ctx context.Context, rec domain.SignalRecord) error {
	return s.insert(ctx, rec)
}

// RecordClosed appends the row for a closed position.
func (s *SignalStore) RecordClosed(ctx context.Context, rec domain.SignalRecord) error {
	return s.insert(ctx, rec)
}

func (s *SignalStore) insert(ctx context.Context, rec domain.SignalRecord) error {
	date, err := time.Parse(time.DateOnly, rec.Date)
	if err != nil {
		return fmt.Errorf("postgres: signal %s: bad date %q: %w", rec.PositionID, rec.Date, err)
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	const query = `INSERT INTO trade_signals (` + signalCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.pool.Exec(ctx, query,
		rec.PositionID, rec.Event, date, rec.Symbol,
		rec.VP, rec.Trend, rec.OrderBook, rec.Overall,
		rec.Open, rec.Side, rec.TP, rec.SL, rec.Result, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s %s: %w", rec.Event, rec.PositionID, err)
	}
	return nil
}

// List returns rows newest first.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		where = append(where, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		where = append(where, fmt.Sprintf("recorded_at <= $%d", len(args)))
	}

	query := `SELECT ` + signalCols + ` FROM trade_signals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanSignal)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	return recs, nil
}

func scanSignal(row pgx.CollectableRow) (domain.SignalRecord, error) {
	var (
		rec  domain.SignalRecord
		date time.Time
	)
	err := row.Scan(
		&rec.PositionID, &rec.Event, &date, &rec.Symbol,
		&rec.VP, &rec.Trend, &rec.OrderBook, &rec.Overall,
		&rec.Open, &rec.Side, &rec.TP, &rec.SL, &rec.Result, &rec.RecordedAt,
	)
	rec.Date = date.Format(time.DateOnly)
	return rec, err
}

// paginate appends LIMIT and OFFSET placeholders for opts.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
