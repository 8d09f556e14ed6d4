// Package catalog caches the make and model options of the site's search
// form. Entries live in the store with a cached-at time and are refreshed
// from the landing page once they are older than the TTL.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/metrics"
	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/parser"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// DefaultTTL is how long cached options stay fresh.
const DefaultTTL = 24 * time.Hour

// Store holds cached options. *store.Store satisfies it.
type Store interface {
	CachedMakes(ctx context.Context) ([]model.Make, time.Time, error)
	CachedModels(ctx context.Context, makeID string) ([]model.ModelOption, time.Time, error)
	ReplaceMakes(ctx context.Context, makes []model.Make, at time.Time) error
	ReplaceModels(ctx context.Context, models []model.ModelOption, at time.Time) error
}

// Fetcher loads a page. *scraper.Manager satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetcher.Content, error)
}

// Cache serves makes and models, refreshing from the site when stale.
type Cache struct {
	store   Store
	fetcher Fetcher
	landing string
	ttl     time.Duration
	now     func() time.Time

	// refresh is single-flight
	mu sync.Mutex
}

// New creates a cache that refreshes from landingURL.
func New(store Store, f Fetcher, landingURL string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, fetcher: f, landing: landingURL, ttl: ttl, now: time.Now}
}

// Makes returns all vehicle makes.
func (c *Cache) Makes(ctx context.Context) ([]model.Make, error) {
	makes, cachedAt, err := c.store.CachedMakes(ctx)
	if err != nil {
		return nil, err
	}
	if c.fresh(len(makes), cachedAt) {
		metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
		return makes, nil
	}

	if err := c.refresh(ctx); err != nil {
		return c.stale(makes, err)
	}
	return c.reloadMakes(ctx)
}

// Models returns the models of a make.
func (c *Cache) Models(ctx context.Context, makeID string) ([]model.ModelOption, error) {
	if makeID == "" {
		return nil, fmt.Errorf("make id is required")
	}
	models, cachedAt, err := c.store.CachedModels(ctx, makeID)
	if err != nil {
		return nil, err
	}
	if c.fresh(len(models), cachedAt) {
		metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
		return models, nil
	}

	if err := c.refresh(ctx); err != nil {
		return c.staleModels(models, err)
	}
	models, _, err = c.store.CachedModels(ctx, makeID)
	return models, err
}

// Refresh reloads the catalog regardless of age.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Cache) fresh(n int, cachedAt time.Time) bool {
	return n > 0 && !cachedAt.IsZero() && c.now().Sub(cachedAt) < c.ttl
}

func (c *Cache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()
	content, err := c.fetcher.Fetch(ctx, c.landing)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	makes, err := parser.ParseMakes(content.HTML)
	if err != nil {
		return fmt.Errorf("parse makes: %w", err)
	}
	if len(makes) == 0 {
		return fmt.Errorf("parse makes: no options found on %s", c.landing)
	}
	models, err := parser.ParseModels(content.HTML, "")
	if err != nil {
		return fmt.Errorf("parse models: %w", err)
	}

	at := c.now()
	if err := c.store.ReplaceMakes(ctx, makes, at); err != nil {
		return err
	}
	if err := c.store.ReplaceModels(ctx, models, at); err != nil {
		return err
	}
	logger.Info("catalog refreshed", "makes", len(makes), "models", len(models))
	return nil
}

func (c *Cache) reloadMakes(ctx context.Context) ([]model.Make, error) {
	makes, _, err := c.store.CachedMakes(ctx)
	return makes, err
}

func (c *Cache) stale(makes []model.Make, err error) ([]model.Make, error) {
	if len(makes) == 0 {
		return nil, err
	}
	metrics.CatalogCacheTotal.WithLabelValues("stale").Inc()
	logger.Warn("catalog refresh failed, serving stale makes", "error", err)
	return makes, nil
}

func (c *Cache) staleModels(models []model.ModelOption, err error) ([]model.ModelOption, error) {
	if len(models) == 0 {
		return nil, err
	}
	metrics.CatalogCacheTotal.WithLabelValues("stale").Inc()
	logger.Warn("catalog refresh failed, serving stale models", "error", err)
	return models, nil
}
