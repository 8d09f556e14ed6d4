package carwatch

import (
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/jmylchreest/carwatch/internal/config"
	"github.com/jmylchreest/carwatch/internal/scraper"
	"github.com/jmylchreest/carwatch/internal/store"
)

// DefaultConfig returns the built-in configuration, without reading any
// file or environment.
func DefaultConfig() config.Config {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Decode(v)
	if err != nil {
		// the defaults are static and covered by tests
		panic(err)
	}
	return cfg
}

type options struct {
	config   config.Config
	backends []scraper.Backend
	store    *store.Store
	redis    redis.UniversalClient
}

// Option configures a Service.
type Option func(*options)

// WithConfig replaces the whole configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithBaseURL points the service at another site root.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.config.Site.BaseURL = url
	}
}

// WithFetchMode pins every run to one backend, or "auto".
func WithFetchMode(mode scraper.Mode) Option {
	return func(o *options) {
		o.config.Fetch.Mode = string(mode)
	}
}

// WithStorage selects the database driver and DSN.
func WithStorage(driver, dsn string) Option {
	return func(o *options) {
		o.config.Storage.Driver = driver
		o.config.Storage.DSN = dsn
	}
}

// WithBackends replaces the configured backends. The service takes
// ownership and closes them.
func WithBackends(backends ...scraper.Backend) Option {
	return func(o *options) {
		o.backends = backends
	}
}

// WithStore uses an already opened store. The caller keeps ownership.
func WithStore(s *store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithRedis shares request pacing through rdb instead of dialing
// ratelimit.redis_addr. The caller keeps ownership.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = rdb
	}
}
