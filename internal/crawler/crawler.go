// Package crawler runs one acquisition: plan the result pages for a filter
// set, fetch them concurrently, parse and de-duplicate the listings, and
// optionally enrich each one from its detail page.
package crawler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/parser"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// Config holds crawler configuration.
type Config struct {
	BaseURL string

	// Parallel bounds goroutines per fan-out. Backend concurrency caps in
	// the fetch manager still apply underneath.
	Parallel int

	DetailBatchSize  int
	DetailBatchPause time.Duration
}

// DefaultConfig returns sensible crawler defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Parallel:         20,
		DetailBatchSize:  50,
		DetailBatchPause: time.Second,
	}
}

// Crawler orchestrates acquisition runs over a fetch source.
type Crawler struct {
	src     Source
	urls    URLBuilder
	planner *Planner
	config  Config

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new Crawler.
func New(src Source, cfg Config) *Crawler {
	def := DefaultConfig()
	if cfg.Parallel < 1 {
		cfg.Parallel = def.Parallel
	}
	if cfg.DetailBatchSize < 1 {
		cfg.DetailBatchSize = def.DetailBatchSize
	}
	urls := NewURLBuilder(cfg.BaseURL)
	return &Crawler{
		src:     src,
		urls:    urls,
		planner: NewPlanner(src, urls),
		config:  cfg,
		sleep:   sleepContext,
	}
}

// Planner exposes the page planner.
func (c *Crawler) Planner() *Planner { return c.planner }

// Run performs one acquisition. pageBudget caps the pages fetched; 0 or
// less means every planned page. Per-URL failures are counted in the
// result, not returned; the error is non-nil only when ctx ends.
func (c *Crawler) Run(ctx context.Context, f model.Filters, pageBudget int, withDetails bool) (model.RunResult, error) {
	start := time.Now()
	c.src.Restart()

	if _, err := c.src.Select(ctx, c.urls.Landing()); err != nil {
		return model.RunResult{Elapsed: time.Since(start), Errors: c.src.Errors()}, err
	}

	plan := c.planner.Plan(ctx, f)
	result := model.RunResult{
		PagesPlanned: plan.TotalPages,
		Backend:      c.src.Backend(),
	}
	if plan.TotalPages == 0 {
		result.Elapsed = time.Since(start)
		result.Errors = c.src.Errors()
		logger.Info("no pages to fetch", "make_id", f.MakeID, "model_id", f.ModelID)
		return result, ctx.Err()
	}

	pages := plan.TotalPages
	if pageBudget > 0 && pageBudget < pages {
		pages = pageBudget
	}
	logger.Info("acquisition started", "pages", pages, "total_pages", plan.TotalPages, "backend", result.Backend)

	contents := c.fetchPages(ctx, f, pages, plan.First)

	seen := NewIDSet()
	for i, content := range contents {
		if content == nil {
			logger.Info("page failed", "page", i+1)
			continue
		}
		result.PagesFetched++
		listings, err := parser.ParseListingPage(content.HTML, content.URL)
		if err != nil {
			logger.Warn("page parse failed", "page", i+1, "error", err)
			continue
		}
		unique := seen.Unique(listings)
		result.Listings = append(result.Listings, unique...)
		logger.Info("page fetched", "page", i+1, "listings", len(listings), "new_ids", len(unique))
	}

	if withDetails && len(result.Listings) > 0 {
		result.DetailsFetch = c.enrichDetails(ctx, result.Listings)
	}

	result.Backend = c.src.Backend()
	result.Errors = c.src.Errors()
	result.Elapsed = time.Since(start)
	logger.Info("acquisition finished",
		"listings", len(result.Listings),
		"pages_fetched", result.PagesFetched,
		"errors", result.Errors,
		"elapsed", result.Elapsed.Round(time.Millisecond))
	return result, ctx.Err()
}

// fetchPages fetches pages 1..n concurrently. The slice is indexed by page
// and nil where the fetch failed.
func (c *Crawler) fetchPages(ctx context.Context, f model.Filters, n int, first *fetcher.Content) []*fetcher.Content {
	contents := make([]*fetcher.Content, n)
	contents[0] = first

	var g errgroup.Group
	g.SetLimit(c.config.Parallel)
	for page := 2; page <= n; page++ {
		g.Go(func() error {
			content, err := c.src.Fetch(ctx, c.urls.Page(f, page))
			if err == nil {
				contents[page-1] = &content
			}
			return nil
		})
	}
	_ = g.Wait()
	return contents
}

// enrichDetails fetches detail pages in batches, pausing between batches,
// and merges view counts in place. It returns the number merged.
func (c *Crawler) enrichDetails(ctx context.Context, listings []model.Listing) int {
	size := c.config.DetailBatchSize
	merged := make([]bool, len(listings))

	for lo := 0; lo < len(listings); lo += size {
		if lo > 0 {
			if err := c.sleep(ctx, c.config.DetailBatchPause); err != nil {
				break
			}
		}
		hi := min(lo+size, len(listings))

		var g errgroup.Group
		g.SetLimit(c.config.Parallel)
		for i := lo; i < hi; i++ {
			if listings[i].URL == "" {
				continue
			}
			g.Go(func() error {
				content, err := c.src.Fetch(ctx, listings[i].URL)
				if err == nil {
					merged[i] = parser.MergeDetail(&listings[i], content.HTML)
				}
				return nil
			})
		}
		_ = g.Wait()
		logger.Info("details progress", "done", hi, "total", len(listings))
	}

	n := 0
	for _, ok := range merged {
		if ok {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
