package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sidewaysbot/internal/crypto"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Trading.MaxTotalPositions)
	assert.Equal(t, 2*time.Second, cfg.Trading.OrderBookTimeout.Duration)
	assert.Equal(t, "patterns:sideways", cfg.Patterns.Stream)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, "config.toml", `
mode = "monitor"

[trading]
take_profit_percent = 3.5
order_book_timeout = "500ms"

[feed]
symbols = ["ETHUSDT"]
`)
	t.Setenv("SIDEWAYS_TRADING_STOP_LOSS_PERCENT", "1.5")
	t.Setenv("SIDEWAYS_FEED_SYMBOLS", "BTCUSDT, SOLUSDT ,")
	t.Setenv("SIDEWAYS_TRADING_MAX_TOTAL_POSITIONS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 3.5, cfg.Trading.TakeProfitPercent)
	assert.Equal(t, 1.5, cfg.Trading.StopLossPercent)
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.OrderBookTimeout.Duration)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Feed.Symbols)
	assert.Equal(t, 10, cfg.Trading.MaxTotalPositions, "unparsable env values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeFile(t, "bad.toml", "mode = "))
	assert.Error(t, err)
}

func TestLoad_SealedSecretsBeforeEnv(t *testing.T) {
	sealed, err := crypto.Seal([]byte(`
[postgres]
password = "from-sealed"

[server]
api_key = "sealed-key"
`), "pw")
	require.NoError(t, err)
	sealedPath := writeFile(t, "secrets.sealed", string(sealed))

	path := writeFile(t, "config.toml", "[secrets]\nsealed_path = \""+filepath.ToSlash(sealedPath)+"\"\n")
	t.Setenv("SIDEWAYS_SECRETS_PASSWORD", "pw")
	t.Setenv("SIDEWAYS_SERVER_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-sealed", cfg.Postgres.Password)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
}

func TestLoad_SealedWrongPasswordIsFatal(t *testing.T) {
	sealed, err := crypto.Seal([]byte("[redis]\npassword = \"x\"\n"), "right")
	require.NoError(t, err)
	sealedPath := writeFile(t, "secrets.sealed", string(sealed))

	path := writeFile(t, "config.toml", "[secrets]\nsealed_path = \""+filepath.ToSlash(sealedPath)+"\"\npassword = \"wrong\"\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, crypto.ErrWrongPassword)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Trading.TakeProfitPercent = 0
	cfg.Trading.ConfirmationPolicy = "LOOSE"
	cfg.Trend.SlowPeriod = cfg.Trend.FastPeriod
	cfg.Feed.DepthLevels = 7
	cfg.Patterns.Source = "kafka"
	cfg.Kafka.GroupID = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "backtest"`,
		"take_profit_percent",
		`confirmation_policy "LOOSE"`,
		"fast_period < slow_period",
		"depth_levels",
		"group_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_MaxTotalZeroDisables(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.MaxTotalPositions = 0
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, "pg", cfg.Postgres.Password)

	out.Feed.Symbols[0] = "XXX"
	assert.Equal(t, "BTCUSDT", cfg.Feed.Symbols[0])
}
