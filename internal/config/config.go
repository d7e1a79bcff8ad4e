package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ema-cross-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the alert audit
// trail. Leaving the DSN empty disables database persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExchangeConfig captures BingX market data access.
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Interval       string        `mapstructure:"interval"`
	Limit          int           `mapstructure:"limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AnalysisConfig 描述 EMA 交叉分析参数。
type AnalysisConfig struct {
	EMAFast   int           `mapstructure:"ema_fast"`
	EMASlow   int           `mapstructure:"ema_slow"`
	MinBars   int           `mapstructure:"min_bars"`
	Freshness time.Duration `mapstructure:"freshness"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// WatchlistConfig names the symbols to sweep, inline or from a file.
type WatchlistConfig struct {
	Symbols []string `mapstructure:"symbols"`
	File    string   `mapstructure:"file"`
}

// LedgerConfig selects the cooldown ledger backing.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AlertsConfig tunes the audit trail.
type AlertsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EMAWATCHER")
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
	v.SetDefault("app.name", "emawatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x656d6177))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("exchange.base_url", "https://open-api.bingx.com")
	v.SetDefault("exchange.interval", "30m")
	v.SetDefault("exchange.limit", 200)
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.user_agent", "emawatcher/1.0")

	v.SetDefault("analysis.ema_fast", 21)
	v.SetDefault("analysis.ema_slow", 50)
	v.SetDefault("analysis.min_bars", 100)
	v.SetDefault("analysis.freshness", "30m")
	v.SetDefault("analysis.cooldown", "12h")

	v.SetDefault("watchlist.symbols", []string{})
	v.SetDefault("watchlist.file", "")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "cache/ema_alerts.json")

	v.SetDefault("alerts.retention", "720h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Analysis.EMAFast <= 0 || c.Analysis.EMASlow <= 0 {
		return fmt.Errorf("analysis.ema_fast and analysis.ema_slow must be greater than zero")
	}
	if c.Analysis.EMAFast >= c.Analysis.EMASlow {
		return fmt.Errorf("analysis.ema_fast (%d) must be smaller than analysis.ema_slow (%d)", c.Analysis.EMAFast, c.Analysis.EMASlow)
	}
	if c.Analysis.MinBars < c.Analysis.EMASlow {
		return fmt.Errorf("analysis.min_bars must be at least analysis.ema_slow so the slow EMA stabilises past its seed")
	}
	if c.Analysis.Freshness <= 0 {
		return fmt.Errorf("analysis.freshness must be greater than zero")
	}
	if c.Analysis.Cooldown < 0 {
		return fmt.Errorf("analysis.cooldown cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Exchange.Limit < c.Analysis.MinBars {
		return fmt.Errorf("exchange.limit must cover analysis.min_bars candles")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path 必须配置")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("ledger.backend=postgres 需要 database.dsn")
		}
	default:
		return fmt.Errorf("ledger.backend must be file or postgres, got %q", c.Ledger.Backend)
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

// ResolveWatchlist merges inline symbols with the optional watchlist file.
// File entries follow the coins.txt convention: one symbol per line, comment
// lines start with '#', and a USDT suffix is appended when missing.
func (c *Config) ResolveWatchlist() ([]string, error) {
	symbols := make([]string, 0, len(c.Watchlist.Symbols))
	seen := make(map[string]struct{})

	add := func(raw string) {
		symbol := normalizeSymbol(raw)
		if symbol == "" {
			return
		}
		if _, dup := seen[symbol]; dup {
			return
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}

	for _, s := range c.Watchlist.Symbols {
		add(s)
	}

	if c.Watchlist.File != "" {
		file, err := os.Open(c.Watchlist.File)
		if err != nil {
			return nil, fmt.Errorf("open watchlist file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			add(line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read watchlist file: %w", err)
		}
	}

	return symbols, nil
}

func normalizeSymbol(raw string) string {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return ""
	}
	if !strings.HasSuffix(symbol, "USDT") {
		symbol += "USDT"
	}
	return symbol
}
