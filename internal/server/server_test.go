package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
	"github.com/alanyoungcy/sidewaysbot/internal/server/handler"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBook struct {
	open   []domain.Position
	closed []domain.Position
}

func (b *fakeBook) OpenPositions() []domain.Position { return b.open }

func (b *fakeBook) OpenPositionsFor(symbol string) []domain.Position {
	var out []domain.Position
	for _, p := range b.open {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBook) ClosedHistory() []domain.Position { return b.closed }

func (b *fakeBook) Stats() domain.TradingStats {
	return domain.TradingStats{TotalTrades: 3, ClosedTrades: 2, WinTrades: 1, WinRate: 50, AveragePnL: 0.5}
}

type fakeSignals struct {
	gotOpts domain.ListOpts
}

func (f *fakeSignals) RecordOpened(context.Context, domain.SignalRecord) error { return nil }
func (f *fakeSignals) RecordClosed(context.Context, domain.SignalRecord) error { return nil }
func (f *fakeSignals) List(_ context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	f.gotOpts = opts
	return []domain.SignalRecord{{Symbol: "BTCUSDT", Side: "long"}}, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.calls++
	return f.allow, f.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	handler http.Handler
	signals *fakeSignals
	limiter *fakeLimiter
}

func newTestEnv(apiKey string, redisDown bool) *testEnv {
	book := &fakeBook{
		open: []domain.Position{
			{ID: "a", Symbol: "BTCUSDT", Status: domain.PositionStatusOpen},
			{ID: "b", Symbol: "ETHUSDT", Status: domain.PositionStatusOpen},
		},
	}
	signals := &fakeSignals{}
	limiter := &fakeLimiter{allow: true}
	redisPing := pingFunc(func(context.Context) error { return nil })
	if redisDown {
		redisPing = func(context.Context) error { return errors.New("connection refused") }
	}
	h := Handlers{
		Health:    handler.NewHealthHandler(map[string]handler.Pinger{"redis": redisPing}),
		Status:    handler.NewStatusHandler("trade", handler.TradingInfo{ConfirmationPolicy: "STRICT"}, nil, time.Now()),
		Positions: handler.NewPositionHandler(book),
		Logs:      handler.NewLogHandler(signals, nil, quietLogger()),
	}
	cfg := Config{APIKey: apiKey, RateLimit: 10, RateWindow: time.Minute}
	return &testEnv{
		handler: Routes(cfg, h, nil, limiter, quietLogger()),
		signals: signals,
		limiter: limiter,
	}
}

func (e *testEnv) get(t *testing.T, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth_ExemptFromAuth(t *testing.T) {
	env := newTestEnv("secret", true)
	rec := env.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	env := newTestEnv("secret", false)

	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/stats").Code)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/stats", "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/stats", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/stats", "X-API-Key", "secret").Code)
}

func TestPositions_FilterBySymbol(t *testing.T) {
	env := newTestEnv("", false)

	body := decode(t, env.get(t, "/api/positions"))
	assert.EqualValues(t, 2, body["count"])

	body = decode(t, env.get(t, "/api/positions?symbol=ethusdt"))
	assert.EqualValues(t, 1, body["count"])

	body = decode(t, env.get(t, "/api/positions/closed"))
	assert.EqualValues(t, 0, body["count"])
	assert.NotNil(t, body["positions"], "empty list is [] not null")
}

func TestStats(t *testing.T) {
	env := newTestEnv("", false)
	body := decode(t, env.get(t, "/api/stats"))
	assert.EqualValues(t, 50, body["win_rate"])
	assert.EqualValues(t, 0.5, body["average_pnl"])
}

func TestSignals_Pagination(t *testing.T) {
	env := newTestEnv("", false)
	rec := env.get(t, "/api/signals?limit=9999&offset=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListOpts{Limit: 500, Offset: 20}, env.signals.gotOpts)
}

func TestAudit_DisabledStore(t *testing.T) {
	env := newTestEnv("", false)
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/api/audit").Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv("", false)
	env.limiter.allow = false
	rec := env.get(t, "/api/stats")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	env.limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusOK, env.get(t, "/api/stats").Code, "limiter errors fail open")
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv("secret", false)
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus(t *testing.T) {
	env := newTestEnv("", false)
	body := decode(t, env.get(t, "/api/status"))
	assert.Equal(t, "trade", body["mode"])
	trend, ok := body["trend"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN", trend["trend"])
}
