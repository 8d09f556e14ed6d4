// Package carwatch is the public entry point: it wires fetch backends,
// the strategy manager, the crawler, the change-tracking store, the
// catalog cache and the schedule engine into one Service.
package carwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/carwatch/internal/browser"
	"github.com/jmylchreest/carwatch/internal/catalog"
	"github.com/jmylchreest/carwatch/internal/config"
	"github.com/jmylchreest/carwatch/internal/crawler"
	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/ratelimit"
	"github.com/jmylchreest/carwatch/internal/schedule"
	"github.com/jmylchreest/carwatch/internal/scraper"
	"github.com/jmylchreest/carwatch/internal/store"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// Re-exported so callers need not import internal packages.
var (
	ErrJobNotFound     = schedule.ErrJobNotFound
	ErrNotFound    = store.ErrNotFound
)

type (
	JobSpec      = schedule.JobSpec
	JobUpdate    = schedule.JobUpdate
	ListingQuery = store.ListingQuery
)

// Service runs acquisitions and manages their history and schedules.
type Service struct {
	config  config.Config
	store   *store.Store
	manager *scraper.Manager
	crawler *crawler.Crawler
	catalog *catalog.Cache
	engine  *schedule.Engine

	// runMu serializes acquisitions; the manager's backend selection and
	// error counter are per run.
	runMu sync.Mutex

	ownsStore bool
	ownsRedis redis.UniversalClient
}

// New builds a service.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	o := options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{config: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	s.store = o.store
	if s.store == nil {
		st, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		s.store, s.ownsStore = st, true
	}

	rdb := o.redis
	if rdb == nil && cfg.RateLimit.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RateLimit.RedisAddr, err)
		}
		s.ownsRedis = rdb
	}

	backends := o.backends
	if len(backends) == 0 {
		var err error
		if backends, err = buildBackends(cfg, rdb); err != nil {
			return nil, err
		}
	}
	manager, err := scraper.New(scraper.Config{
		Mode:        scraper.Mode(cfg.Fetch.Mode),
		Retries:     cfg.Fetch.Retries,
		BackoffStep: cfg.Fetch.BackoffStep,
		Timeout:     cfg.Fetch.Timeout,
	}, backends...)
	if err != nil {
		for _, b := range backends {
			_ = b.Fetcher.Close()
		}
		return nil, err
	}
	s.manager = manager

	s.crawler = crawler.New(manager, crawler.Config{
		BaseURL:          cfg.Site.BaseURL,
		Parallel:         cfg.Acquisition.Parallel,
		DetailBatchSize:  cfg.Acquisition.DetailBatchSize,
		DetailBatchPause: cfg.Acquisition.DetailBatchPause,
	})
	s.catalog = catalog.New(s.store, manager, crawler.NewURLBuilder(cfg.Site.BaseURL).Landing(), cfg.Catalog.TTL)
	s.engine = schedule.New(s.store, s, schedule.Config{PollInterval: cfg.Scheduler.PollInterval})

	ok = true
	return s, nil
}

// buildBackends creates the enabled backends cheapest first.
func buildBackends(cfg config.Config, rdb redis.UniversalClient) ([]scraper.Backend, error) {
	maxBody, err := cfg.Fetch.MaxBodyBytes()
	if err != nil {
		return nil, err
	}

	limiter := func(name string, minDelay time.Duration) ratelimit.Limiter {
		if rdb == nil {
			return nil
		}
		return ratelimit.NewRedis(rdb, strings.TrimSuffix(cfg.RateLimit.KeyPrefix, ":")+":"+name, minDelay)
	}

	var backends []scraper.Backend
	if l := cfg.Fetch.Static; l.Enabled {
		backends = append(backends, scraper.Backend{
			Fetcher: fetcher.NewStatic(fetcher.StaticConfig{
				UserAgent:       cfg.Fetch.UserAgent,
				Timeout:         cfg.Fetch.Timeout,
				MaxBodySize:     int(maxBody),
				RotateUserAgent: cfg.Fetch.UserAgent == "",
			}),
			MaxConcurrent: l.MaxConcurrent,
			MinDelay:      l.MinDelay,
			Limiter:       limiter(fetcher.BackendStatic, l.MinDelay),
		})
	}
	if l := cfg.Fetch.Impersonate; l.Enabled {
		backends = append(backends, scraper.Backend{
			Fetcher: fetcher.NewImpersonate(fetcher.ImpersonateConfig{
				Timeout:     cfg.Fetch.Timeout,
				MaxBodySize: maxBody,
			}),
			MaxConcurrent: l.MaxConcurrent,
			MinDelay:      l.MinDelay,
			Limiter:       limiter(fetcher.BackendImpersonate, l.MinDelay),
		})
	}
	if b := cfg.Fetch.Browser; b.Enabled {
		f, err := browser.New(browser.Config{
			Engine:          b.Engine,
			UserAgent:       cfg.Fetch.UserAgent,
			Timeout:         cfg.Fetch.Timeout,
			Stealth:         b.Stealth,
			FlareSolverrURL: b.FlareSolverrURL,
			ChromePath:      b.ChromePath,
		})
		if err != nil {
			for _, prev := range backends {
				_ = prev.Fetcher.Close()
			}
			return nil, err
		}
		backends = append(backends, scraper.Backend{
			Fetcher:       f,
			MaxConcurrent: b.MaxConcurrent,
			MinDelay:      b.MinDelay,
			Limiter:       limiter(fetcher.BackendBrowser, b.MinDelay),
		})
	}
	return backends, nil
}

// Config returns the effective configuration.
func (s *Service) Config() config.Config { return s.config }

// Crawl performs an acquisition without persisting it.
func (s *Service) Crawl(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.crawler.Run(ctx, f, pageBudget, withDetails)
}

// RunAcquisition crawls and commits the result as one session. A run that
// ends early still commits what it collected.
func (s *Service) RunAcquisition(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.SessionStats, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, runErr := s.crawler.Run(ctx, f, pageBudget, withDetails)
	if runErr != nil {
		logger.Warn("acquisition ended early", "error", runErr, "listings", len(res.Listings))
	}
	stats, err := s.store.Commit(ctx, res.Listings, f)
	return stats, errors.Join(runErr, err)
}

// ListSessions returns the most recent sessions first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]model.Session, error) {
	return s.store.ListSessions(ctx, limit)
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id int64) (model.Session, error) {
	return s.store.GetSession(ctx, id)
}

// GetSessionRecords returns the listings a session touched with their
// per-session outcome.
func (s *Service) GetSessionRecords(ctx context.Context, sessionID int64, limit int) ([]model.SessionListing, error) {
	return s.store.SessionListings(ctx, sessionID, limit)
}

// GetListing returns one stored listing.
func (s *Service) GetListing(ctx context.Context, id string) (model.Listing, error) {
	return s.store.GetListing(ctx, id)
}

// SearchListings queries stored listings.
func (s *Service) SearchListings(ctx context.Context, q ListingQuery) ([]model.Listing, error) {
	return s.store.SearchListings(ctx, q)
}

// PriceHistory returns the price changes of a listing, oldest first.
func (s *Service) PriceHistory(ctx context.Context, listingID string) ([]model.PriceChange, error) {
	return s.store.PriceHistory(ctx, listingID)
}

// PruneHistory deletes price history recorded before the cutoff.
func (s *Service) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PruneHistory(ctx, before)
}

// CreateJob stores a new recurring job.
func (s *Service) CreateJob(ctx context.Context, spec JobSpec) (model.Job, error) {
	return s.engine.CreateJob(ctx, spec)
}

// UpdateJob changes a job.
func (s *Service) UpdateJob(ctx context.Context, id string, u JobUpdate) (model.Job, error) {
	return s.engine.UpdateJob(ctx, id, u)
}

// DeleteJob removes a job.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	return s.engine.DeleteJob(ctx, id)
}

// ToggleJob activates or pauses a job.
func (s *Service) ToggleJob(ctx context.Context, id string, active bool) (model.Job, error) {
	return s.engine.ToggleJob(ctx, id, active)
}

// GetJob returns one job.
func (s *Service) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.engine.GetJob(ctx, id)
}

// ListJobs returns jobs ordered by next run.
func (s *Service) ListJobs(ctx context.Context, includeInactive bool) ([]model.Job, error) {
	return s.engine.ListJobs(ctx, includeInactive)
}

// RunJobNow executes a job immediately.
func (s *Service) RunJobNow(ctx context.Context, id string) (model.JobRun, error) {
	return s.engine.RunNow(ctx, id)
}

// GetJobRuns returns recent runs of a job.
func (s *Service) GetJobRuns(ctx context.Context, id string, limit int) ([]model.JobRun, error) {
	return s.engine.JobRuns(ctx, id, limit)
}

// StartScheduler starts the job loop.
func (s *Service) StartScheduler(ctx context.Context) { s.engine.Start(ctx) }

// StopScheduler stops the job loop, letting a running job finish.
func (s *Service) StopScheduler() { s.engine.Stop() }

// SchedulerRunning reports whether the job loop is active.
func (s *Service) SchedulerRunning() bool { return s.engine.Running() }

// Makes returns the vehicle makes offered by the site.
func (s *Service) Makes(ctx context.Context) ([]model.Make, error) {
	return s.catalog.Makes(ctx)
}

// Models returns the models of a make.
func (s *Service) Models(ctx context.Context, makeID string) ([]model.ModelOption, error) {
	return s.catalog.Models(ctx, makeID)
}

// RefreshCatalog reloads makes and models from the site.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	return s.catalog.Refresh(ctx)
}

// Close stops the scheduler and releases backends and owned connections.
func (s *Service) Close() error {
	var errs []error
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.manager != nil {
		errs = append(errs, s.manager.Close())
	}
	if s.ownsStore && s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.ownsRedis != nil {
		errs = append(errs, s.ownsRedis.Close())
	}
	return errors.Join(errs...)
}
