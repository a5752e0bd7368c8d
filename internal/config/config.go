package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"gaugewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	USGS      USGSConfig      `mapstructure:"usgs"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs pipeline cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// USGSConfig covers NWIS water-services access.
type USGSConfig struct {
	IVBaseURL      string        `mapstructure:"iv_base_url"`
	DVBaseURL      string        `mapstructure:"dv_base_url"`
	StateCode      string        `mapstructure:"state_code"`
	ParameterCode  string        `mapstructure:"parameter_code"`
	SiteType       string        `mapstructure:"site_type"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	ChunkYears     int           `mapstructure:"chunk_years"`
	ChunkDelay     time.Duration `mapstructure:"chunk_delay"`
}

// PipelineConfig tunes the derived-metric pipeline.
type PipelineConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	TargetLag time.Duration `mapstructure:"target_lag"`
	Tolerance time.Duration `mapstructure:"tolerance"`
	// Timezone is the calendar used to extract day-of-year from the latest
	// reading before the historical lookup.
	Timezone string `mapstructure:"timezone"`
}

// BaselineConfig governs the historical percentile tables.
type BaselineConfig struct {
	YearsBack       int     `mapstructure:"years_back"`
	Percentile      float64 `mapstructure:"percentile"`
	MinSamples      int     `mapstructure:"min_samples"`
	LeapDayFallback bool    `mapstructure:"leap_day_fallback"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	RiseThresholdPct float64        `mapstructure:"rise_threshold_pct"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Channels         []string       `mapstructure:"channels"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint served by the run command.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAUGEWATCH")
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
	v.SetDefault("app.name", "gaugewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x67616765))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("usgs.iv_base_url", "https://waterservices.usgs.gov/nwis/iv/")
	v.SetDefault("usgs.dv_base_url", "https://waterservices.usgs.gov/nwis/dv/")
	v.SetDefault("usgs.state_code", "VA")
	v.SetDefault("usgs.parameter_code", "00060")
	v.SetDefault("usgs.site_type", "ST")
	v.SetDefault("usgs.request_timeout", "30s")
	v.SetDefault("usgs.user_agent", "gaugewatch/1.0")
	v.SetDefault("usgs.chunk_years", 5)
	v.SetDefault("usgs.chunk_delay", "1s")

	v.SetDefault("pipeline.retention", "24h")
	v.SetDefault("pipeline.target_lag", "3h")
	v.SetDefault("pipeline.tolerance", "30m")
	v.SetDefault("pipeline.timezone", "America/New_York")

	v.SetDefault("baseline.years_back", 20)
	v.SetDefault("baseline.percentile", 0.90)
	v.SetDefault("baseline.min_samples", 5)
	v.SetDefault("baseline.leap_day_fallback", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.rise_threshold_pct", 25.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Pipeline.Retention <= 0 {
		return fmt.Errorf("pipeline.retention must be greater than zero")
	}
	if c.Pipeline.TargetLag <= 0 {
		return fmt.Errorf("pipeline.target_lag must be greater than zero")
	}
	if c.Pipeline.Tolerance < 0 {
		return fmt.Errorf("pipeline.tolerance cannot be negative")
	}
	if c.Pipeline.Tolerance >= c.Pipeline.TargetLag {
		return fmt.Errorf("pipeline.tolerance must be smaller than pipeline.target_lag")
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return fmt.Errorf("pipeline.timezone is invalid: %w", err)
	}
	if c.Baseline.Percentile <= 0 || c.Baseline.Percentile > 1 {
		return fmt.Errorf("baseline.percentile must be in (0,1]")
	}
	if c.Baseline.YearsBack <= 0 {
		return fmt.Errorf("baseline.years_back must be greater than zero")
	}
	if c.USGS.StateCode == "" {
		return fmt.Errorf("usgs.state_code is required")
	}
	if c.Alerting.RiseThresholdPct < 0 {
		return fmt.Errorf("alerting.rise_threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// Location resolves the configured pipeline timezone. Validate has already
// checked that it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
