package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dexwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Venues      VenuesConfig      `mapstructure:"venues"`
	Bridge      BridgeConfig      `mapstructure:"bridge"`
	Arbitrage   ArbitrageConfig   `mapstructure:"arbitrage"`
	Reliability ReliabilityConfig `mapstructure:"reliability"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the arbitrage scan and cache sweep cadence.
type SchedulerConfig struct {
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// CacheConfig tunes the in-memory price cache and refresh queue.
type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	RefreshWorkers int           `mapstructure:"refresh_workers"`
	RefreshQueue   int           `mapstructure:"refresh_queue"`
}

// VenuesConfig lists the configured price sources.
type VenuesConfig struct {
	Dexscreener   HTTPVenueConfig `mapstructure:"dexscreener"`
	Geckoterminal HTTPVenueConfig `mapstructure:"geckoterminal"`
	Onchain       OnchainConfig   `mapstructure:"onchain"`
}

// HTTPVenueConfig parameterises an HTTP price source. An empty Chains list
// falls back to the adapter's built-in chain set.
type HTTPVenueConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
	UserAgent      string        `mapstructure:"user_agent"`
	Chains         []string      `mapstructure:"chains"`
}

// OnchainConfig covers the on-chain AMM reader.
type OnchainConfig struct {
	Enabled        bool                   `mapstructure:"enabled"`
	RPCURL         string                 `mapstructure:"rpc_url"`
	ChainID        string                 `mapstructure:"chain_id"`
	RequestTimeout time.Duration          `mapstructure:"request_timeout"`
	Pairs          map[string]OnchainPair `mapstructure:"pairs"`
}

// OnchainPair maps an asset id to a Uniswap-V2 style pair contract.
type OnchainPair struct {
	PairAddress   string `mapstructure:"pair_address"`
	BaseIsToken0  bool   `mapstructure:"base_is_token0"`
	BaseDecimals  int    `mapstructure:"base_decimals"`
	QuoteDecimals int    `mapstructure:"quote_decimals"`
	QuoteIsUSDPeg bool   `mapstructure:"quote_is_usd_peg"`
}

// BridgeConfig parameterises bridge fee providers and fallbacks.
type BridgeConfig struct {
	LiFiBaseURL    string        `mapstructure:"lifi_base_url"`
	SocketBaseURL  string        `mapstructure:"socket_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ArbitrageConfig tunes opportunity detection.
type ArbitrageConfig struct {
	MinProfitPercent float64 `mapstructure:"min_profit_percent"`
}

// ReliabilityConfig selects the tracker state backend.
type ReliabilityConfig struct {
	Backend  string      `mapstructure:"backend"` // "memory" or "redis"
	MinScore float64     `mapstructure:"min_score"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig covers the optional external reliability state store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AlertingConfig routes new-opportunity notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notifier.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dexwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.scan_interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64657877))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.refresh_workers", 2)
	v.SetDefault("cache.refresh_queue", 64)

	v.SetDefault("venues.dexscreener.enabled", true)
	v.SetDefault("venues.dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("venues.dexscreener.request_timeout", "10s")
	v.SetDefault("venues.dexscreener.rate_per_minute", 300)
	v.SetDefault("venues.dexscreener.user_agent", "dexwatch/1.0")

	v.SetDefault("venues.geckoterminal.enabled", true)
	v.SetDefault("venues.geckoterminal.base_url", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("venues.geckoterminal.request_timeout", "10s")
	v.SetDefault("venues.geckoterminal.rate_per_minute", 30)
	v.SetDefault("venues.geckoterminal.user_agent", "dexwatch/1.0")

	v.SetDefault("venues.onchain.enabled", false)
	v.SetDefault("venues.onchain.chain_id", "ethereum")
	v.SetDefault("venues.onchain.request_timeout", "10s")

	v.SetDefault("bridge.lifi_base_url", "https://li.quest/v1")
	v.SetDefault("bridge.socket_base_url", "https://api.socket.tech/v2")
	v.SetDefault("bridge.request_timeout", "10s")

	v.SetDefault("arbitrage.min_profit_percent", 2.0)

	v.SetDefault("reliability.backend", "memory")
	v.SetDefault("reliability.min_score", 70.0)
	v.SetDefault("reliability.redis.addr", "localhost:6379")
	v.SetDefault("reliability.redis.db", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.ScanInterval <= 0 {
		return fmt.Errorf("scheduler.scan_interval must be greater than zero")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Arbitrage.MinProfitPercent < 0 {
		return fmt.Errorf("arbitrage.min_profit_percent cannot be negative")
	}
	if c.Reliability.MinScore < 0 || c.Reliability.MinScore > 100 {
		return fmt.Errorf("reliability.min_score must be within [0,100]")
	}
	switch c.Reliability.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("reliability.backend must be \"memory\" or \"redis\"")
	}
	if c.Reliability.Backend == "redis" && c.Reliability.Redis.Addr == "" {
		return fmt.Errorf("reliability.redis.addr is required for the redis backend")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Venues.Onchain.Enabled && c.Venues.Onchain.RPCURL == "" {
		return fmt.Errorf("venues.onchain.rpc_url is required when the onchain venue is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
