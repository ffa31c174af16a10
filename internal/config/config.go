// Package config defines the sidewaysbot configuration and its validation.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file,
// an optional sealed secrets file, and SIDEWAYS_* environment variables.
type Config struct {
	Trading   TradingConfig   `toml:"trading"`
	Trend     TrendConfig     `toml:"trend"`
	OrderBook OrderBookConfig `toml:"orderbook"`
	Feed      FeedConfig      `toml:"feed"`
	Patterns  PatternsConfig  `toml:"patterns"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Kafka     KafkaConfig     `toml:"kafka"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Events    EventsConfig    `toml:"events"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// TradingConfig drives signal generation and the position book.
type TradingConfig struct {
	Enabled               bool     `toml:"enabled"`
	TakeProfitPercent     float64  `toml:"take_profit_percent"`
	StopLossPercent       float64  `toml:"stop_loss_percent"`
	MaxPositionsPerSymbol int      `toml:"max_positions_per_symbol"`
	MaxTotalPositions     int      `toml:"max_total_positions"`
	ConfirmationPolicy    string   `toml:"confirmation_policy"`
	OrderBookTimeout      duration `toml:"order_book_timeout"`
	StatsLogEvery         int      `toml:"stats_log_every"`
}

// TrendConfig tunes the EMA trend tracker.
type TrendConfig struct {
	ReferenceSymbol    string  `toml:"reference_symbol"`
	FastPeriod         int     `toml:"fast_period"`
	SlowPeriod         int     `toml:"slow_period"`
	NeutralBandPercent float64 `toml:"neutral_band_percent"`
}

// OrderBookConfig tunes the bid/ask imbalance analyzer.
type OrderBookConfig struct {
	Depth          int      `toml:"depth"`
	RatioThreshold float64  `toml:"ratio_threshold"`
	MaxAge         duration `toml:"max_age"`
}

// FeedConfig selects the market stream.
type FeedConfig struct {
	WSURL       string   `toml:"ws_url"`
	Symbols     []string `toml:"symbols"`
	DepthLevels int      `toml:"depth_levels"`
}

// PatternsConfig selects where detected patterns come from.
type PatternsConfig struct {
	Source       string   `toml:"source"`
	Stream       string   `toml:"stream"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig holds connection parameters for the signal log database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters and key TTLs.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	BookTTL    duration `toml:"book_ttl"`
}

// KafkaConfig holds broker and topic names.
type KafkaConfig struct {
	Enabled       bool     `toml:"enabled"`
	Brokers       []string `toml:"brokers"`
	SignalsTopic  string   `toml:"signals_topic"`
	PatternsTopic string   `toml:"patterns_topic"`
	GroupID       string   `toml:"group_id"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls closed-history uploads.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// NotifyConfig holds chat channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// SecretsConfig points at the sealed secrets file.
type SecretsConfig struct {
	SealedPath string `toml:"sealed_path"`
	Password   string `toml:"password"`
}

// EventsConfig sizes the position event dispatcher.
type EventsConfig struct {
	Buffer         int      `toml:"buffer"`
	HandlerTimeout duration `toml:"handler_timeout"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when a key is absent.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			Enabled:               true,
			TakeProfitPercent:     2,
			StopLossPercent:       1,
			MaxPositionsPerSymbol: 1,
			MaxTotalPositions:     10,
			ConfirmationPolicy:    "STRICT",
			OrderBookTimeout:      duration{2 * time.Second},
			StatsLogEvery:         5,
		},
		Trend: TrendConfig{
			ReferenceSymbol:    "BTCUSDT",
			FastPeriod:         12,
			SlowPeriod:         26,
			NeutralBandPercent: 0.1,
		},
		OrderBook: OrderBookConfig{
			Depth:          20,
			RatioThreshold: 1.2,
			MaxAge:         duration{30 * time.Second},
		},
		Feed: FeedConfig{
			WSURL:       "wss://stream.binance.com:9443/stream",
			Symbols:     []string{"BTCUSDT"},
			DepthLevels: 20,
		},
		Patterns: PatternsConfig{
			Source:       "redis",
			Stream:       "patterns:sideways",
			PollInterval: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "sidewaysbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
			BookTTL:    duration{time.Minute},
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			SignalsTopic:  "sideways.signals",
			PatternsTopic: "sideways.patterns",
			GroupID:       "sidewaysbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sidewaysbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
			Prefix:   "positions",
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Events: EventsConfig{
			Buffer:         256,
			HandlerTimeout: duration{10 * time.Second},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

var (
	validModes     = []string{"trade", "monitor"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validPolicies  = []string{"STRICT", "PERMISSIVE"}
	validSources   = []string{"redis", "kafka"}
)

// Validate reports every invalid or missing value in one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !slices.Contains(validModes, strings.ToLower(c.Mode)) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	t := c.Trading
	if t.TakeProfitPercent <= 0 {
		add("trading: take_profit_percent must be > 0")
	}
	if t.StopLossPercent <= 0 || t.StopLossPercent >= 100 {
		add("trading: stop_loss_percent must be in (0, 100)")
	}
	if t.MaxPositionsPerSymbol < 1 {
		add("trading: max_positions_per_symbol must be >= 1")
	}
	if t.MaxTotalPositions < 0 {
		add("trading: max_total_positions must be >= 0 (0 disables)")
	}
	if !slices.Contains(validPolicies, strings.ToUpper(t.ConfirmationPolicy)) {
		add("trading: unknown confirmation_policy %q (valid: %s)", t.ConfirmationPolicy, strings.Join(validPolicies, ", "))
	}
	if t.StatsLogEvery < 0 {
		add("trading: stats_log_every must be >= 0")
	}

	if c.Trend.ReferenceSymbol == "" {
		add("trend: reference_symbol must not be empty")
	}
	if c.Trend.FastPeriod < 1 || c.Trend.SlowPeriod <= c.Trend.FastPeriod {
		add("trend: need 1 <= fast_period < slow_period, got %d/%d", c.Trend.FastPeriod, c.Trend.SlowPeriod)
	}
	if c.Trend.NeutralBandPercent < 0 {
		add("trend: neutral_band_percent must be >= 0")
	}

	if c.OrderBook.Depth < 1 {
		add("orderbook: depth must be >= 1")
	}
	if c.OrderBook.RatioThreshold < 1 {
		add("orderbook: ratio_threshold must be >= 1")
	}

	if c.Feed.WSURL == "" {
		add("feed: ws_url must not be empty")
	}
	if !slices.Contains([]int{5, 10, 20}, c.Feed.DepthLevels) {
		add("feed: depth_levels must be 5, 10 or 20, got %d", c.Feed.DepthLevels)
	}

	if !slices.Contains(validSources, c.Patterns.Source) {
		add("patterns: unknown source %q (valid: %s)", c.Patterns.Source, strings.Join(validSources, ", "))
	}
	if c.Patterns.Source == "redis" && c.Patterns.Stream == "" {
		add("patterns: stream must not be empty for source redis")
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	needKafka := c.Kafka.Enabled || c.Patterns.Source == "kafka"
	if needKafka {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka: brokers must not be empty")
		}
		if c.Patterns.Source == "kafka" && (c.Kafka.PatternsTopic == "" || c.Kafka.GroupID == "") {
			add("kafka: patterns_topic and group_id are required for source kafka")
		}
		if c.Kafka.Enabled && c.Kafka.SignalsTopic == "" {
			add("kafka: signals_topic must not be empty")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("s3: bucket and region are required when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		add("notify: telegram_chat_id is required with telegram_token")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if c.Secrets.SealedPath != "" && c.Secrets.Password == "" {
		add("secrets: password is required when sealed_path is set")
	}

	if c.Events.Buffer < 1 {
		add("events: buffer must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
