package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/sidewaysbot/internal/crypto"
)

const envPrefix = "SIDEWAYS_"

// Load builds the configuration from defaults, the TOML file at path, the
// sealed secrets file and SIDEWAYS_* environment overrides, in that order.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	// The sealed file location and password may themselves come from env.
	setStr(&cfg.Secrets.SealedPath, "SECRETS_SEALED_PATH")
	setStr(&cfg.Secrets.Password, "SECRETS_PASSWORD")
	if cfg.Secrets.SealedPath != "" && cfg.Secrets.Password != "" {
		if err := mergeSealed(&cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// mergeSealed decrypts the secrets file and decodes it over cfg. The
// plaintext is a TOML fragment using the same section names as the main file.
func mergeSealed(cfg *Config) error {
	plain, err := crypto.OpenFile(cfg.Secrets.SealedPath, cfg.Secrets.Password)
	if err != nil {
		return fmt.Errorf("config: open sealed secrets: %w", err)
	}
	var frag secretsFragment
	if _, err := toml.Decode(string(plain), &frag); err != nil {
		return fmt.Errorf("config: decode sealed secrets: %w", err)
	}
	frag.apply(cfg)
	return nil
}

// secretsFragment lists the only fields a sealed file may carry.
type secretsFragment struct {
	Postgres struct {
		DSN      string `toml:"dsn"`
		Password string `toml:"password"`
	} `toml:"postgres"`
	Redis struct {
		Password string `toml:"password"`
	} `toml:"redis"`
	S3 struct {
		AccessKey string `toml:"access_key"`
		SecretKey string `toml:"secret_key"`
	} `toml:"s3"`
	Notify struct {
		TelegramToken     string `toml:"telegram_token"`
		DiscordWebhookURL string `toml:"discord_webhook_url"`
	} `toml:"notify"`
	Server struct {
		APIKey string `toml:"api_key"`
	} `toml:"server"`
}

func (f secretsFragment) apply(cfg *Config) {
	for _, kv := range []struct {
		dst *string
		v   string
	}{
		{&cfg.Postgres.DSN, f.Postgres.DSN},
		{&cfg.Postgres.Password, f.Postgres.Password},
		{&cfg.Redis.Password, f.Redis.Password},
		{&cfg.S3.AccessKey, f.S3.AccessKey},
		{&cfg.S3.SecretKey, f.S3.SecretKey},
		{&cfg.Notify.TelegramToken, f.Notify.TelegramToken},
		{&cfg.Notify.DiscordWebhookURL, f.Notify.DiscordWebhookURL},
		{&cfg.Server.APIKey, f.Server.APIKey},
	} {
		if kv.v != "" {
			*kv.dst = kv.v
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	// trading
	setBool(&cfg.Trading.Enabled, "TRADING_ENABLED")
	setFloat64(&cfg.Trading.TakeProfitPercent, "TRADING_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Trading.StopLossPercent, "TRADING_STOP_LOSS_PERCENT")
	setInt(&cfg.Trading.MaxPositionsPerSymbol, "TRADING_MAX_POSITIONS_PER_SYMBOL")
	setInt(&cfg.Trading.MaxTotalPositions, "TRADING_MAX_TOTAL_POSITIONS")
	setStr(&cfg.Trading.ConfirmationPolicy, "TRADING_CONFIRMATION_POLICY")
	setDuration(&cfg.Trading.OrderBookTimeout, "TRADING_ORDER_BOOK_TIMEOUT")
	setInt(&cfg.Trading.StatsLogEvery, "TRADING_STATS_LOG_EVERY")

	// trend / orderbook
	setStr(&cfg.Trend.ReferenceSymbol, "TREND_REFERENCE_SYMBOL")
	setInt(&cfg.Trend.FastPeriod, "TREND_FAST_PERIOD")
	setInt(&cfg.Trend.SlowPeriod, "TREND_SLOW_PERIOD")
	setFloat64(&cfg.Trend.NeutralBandPercent, "TREND_NEUTRAL_BAND_PERCENT")
	setInt(&cfg.OrderBook.Depth, "ORDERBOOK_DEPTH")
	setFloat64(&cfg.OrderBook.RatioThreshold, "ORDERBOOK_RATIO_THRESHOLD")
	setDuration(&cfg.OrderBook.MaxAge, "ORDERBOOK_MAX_AGE")

	// feed / patterns
	setStr(&cfg.Feed.WSURL, "FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "FEED_SYMBOLS")
	setInt(&cfg.Feed.DepthLevels, "FEED_DEPTH_LEVELS")
	setStr(&cfg.Patterns.Source, "PATTERNS_SOURCE")
	setStr(&cfg.Patterns.Stream, "PATTERNS_STREAM")
	setDuration(&cfg.Patterns.PollInterval, "PATTERNS_POLL_INTERVAL")

	// postgres
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// redis
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// kafka
	setBool(&cfg.Kafka.Enabled, "KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setStr(&cfg.Kafka.SignalsTopic, "KAFKA_SIGNALS_TOPIC")
	setStr(&cfg.Kafka.PatternsTopic, "KAFKA_PATTERNS_TOPIC")
	setStr(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")

	// s3 / archive
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")

	// notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// server
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	setInt(&cfg.Events.Buffer, "EVENTS_BUFFER")
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each helper mutates dst only when SIDEWAYS_<key> is set and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
