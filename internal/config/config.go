// Package config loads carwatch configuration from a YAML file, CARWATCH_
// environment variables and bound CLI flags, in viper's usual precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CARWATCH_STORAGE_DSN.
const EnvPrefix = "CARWATCH"

// FileName is the config file name searched in $HOME and the working
// directory, without extension.
const FileName = ".carwatch"

// Config is the full application configuration.
type Config struct {
	Debug bool `mapstructure:"debug"`
	Quiet bool `mapstructure:"quiet"`

	Site        SiteConfig        `mapstructure:"site"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// SiteConfig locates the marketplace.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// FetchConfig tunes the fetch backends and the strategy manager.
type FetchConfig struct {
	Mode        string        `mapstructure:"mode" validate:"oneof=auto static impersonate browser"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	UserAgent   string        `mapstructure:"user_agent"`
	MaxBody     string        `mapstructure:"max_body"`
	Retries     int           `mapstructure:"retries" validate:"gte=1,lte=10"`
	BackoffStep time.Duration `mapstructure:"backoff_step" validate:"gte=0"`

	Static      BackendLimits `mapstructure:"static"`
	Impersonate BackendLimits `mapstructure:"impersonate"`
	Browser     BrowserConfig `mapstructure:"browser"`
}

// BackendLimits caps one backend's concurrency and pacing.
type BackendLimits struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxConcurrent int64         `mapstructure:"max_concurrent" validate:"gte=1"`
	MinDelay      time.Duration `mapstructure:"min_delay" validate:"gte=0"`
}

// BrowserConfig configures the headless browser backend.
type BrowserConfig struct {
	BackendLimits `mapstructure:",squash"`

	Engine          string `mapstructure:"engine" validate:"oneof=chromedp rod"`
	Stealth         bool   `mapstructure:"stealth"`
	FlareSolverrURL string `mapstructure:"flaresolverr_url" validate:"omitempty,url"`
	ChromePath      string `mapstructure:"chrome_path"`
}

// RateLimitConfig selects a shared limiter. An empty RedisAddr keeps
// pacing in-process.
type RateLimitConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// SchedulerConfig tunes the job loop.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
}

// CatalogConfig tunes the makes/models cache.
type CatalogConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// AcquisitionConfig tunes a run.
type AcquisitionConfig struct {
	Parallel         int           `mapstructure:"parallel" validate:"gte=1"`
	DetailBatchSize  int           `mapstructure:"detail_batch_size" validate:"gte=1"`
	DetailBatchPause time.Duration `mapstructure:"detail_batch_pause" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// MaxBodyBytes parses MaxBody ("10MB", "512KiB"). Empty means 0, which
// leaves each backend's default in place.
func (f FetchConfig) MaxBodyBytes() (int64, error) {
	if strings.TrimSpace(f.MaxBody) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(f.MaxBody)
	if err != nil {
		return 0, fmt.Errorf("fetch.max_body: %w", err)
	}
	return int64(n), nil
}

// SetDefaults registers every key with its default so that environment
// overrides apply even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("quiet", false)

	v.SetDefault("site.base_url", "https://turbo.az")

	v.SetDefault("fetch.mode", "auto")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.max_body", "10MB")
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.backoff_step", 2*time.Second)

	v.SetDefault("fetch.static.enabled", true)
	v.SetDefault("fetch.static.max_concurrent", 10)
	v.SetDefault("fetch.static.min_delay", 200*time.Millisecond)
	v.SetDefault("fetch.impersonate.enabled", true)
	v.SetDefault("fetch.impersonate.max_concurrent", 5)
	v.SetDefault("fetch.impersonate.min_delay", 500*time.Millisecond)
	v.SetDefault("fetch.browser.enabled", true)
	v.SetDefault("fetch.browser.max_concurrent", 2)
	v.SetDefault("fetch.browser.min_delay", 2*time.Second)
	v.SetDefault("fetch.browser.engine", "chromedp")
	v.SetDefault("fetch.browser.stealth", true)
	v.SetDefault("fetch.browser.flaresolverr_url", "")
	v.SetDefault("fetch.browser.chrome_path", "")

	v.SetDefault("ratelimit.redis_addr", "")
	v.SetDefault("ratelimit.key_prefix", "carwatch:ratelimit")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "carwatch.db")

	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("catalog.ttl", 24*time.Hour)

	v.SetDefault("acquisition.parallel", 20)
	v.SetDefault("acquisition.detail_batch_size", 50)
	v.SetDefault("acquisition.detail_batch_pause", time.Second)

	v.SetDefault("metrics.addr", ":9090")
}

// Init prepares v to read the config file and environment. An explicit
// cfgFile replaces the search path.
func Init(v *viper.Viper, cfgFile string) {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the config file if there is one and returns the validated
// configuration. A missing file is not an error; a malformed one is.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates whatever v currently holds.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Fetch.MaxBodyBytes(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Fetch.Static.Enabled && !c.Fetch.Impersonate.Enabled && !c.Fetch.Browser.Enabled {
		return fmt.Errorf("invalid config: at least one fetch backend must be enabled")
	}
	return nil
}
