package crawler

import (
	"context"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/parser"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// Source is the fetch contract the crawler needs. *scraper.Manager
// satisfies it.
type Source interface {
	Fetch(ctx context.Context, url string) (fetcher.Content, error)
	Select(ctx context.Context, canaryURL string) (string, error)
	Backend() string
	Errors() int
	Restart()
}

// Plan is the outcome of page planning. First holds page 1 so the run
// does not fetch it twice.
type Plan struct {
	TotalPages int
	First      *fetcher.Content
}

// Planner determines how many result pages a filter set spans.
type Planner struct {
	src  Source
	urls URLBuilder
}

// NewPlanner creates a planner.
func NewPlanner(src Source, urls URLBuilder) *Planner {
	return &Planner{src: src, urls: urls}
}

// Plan fetches page 1 and reads the highest page index from its
// pagination. TotalPages is 0 when page 1 could not be fetched.
func (p *Planner) Plan(ctx context.Context, f model.Filters) Plan {
	u := p.urls.Page(f, 1)
	content, err := p.src.Fetch(ctx, u)
	if err != nil {
		logger.Warn("page planning failed", "url", u, "error", err)
		return Plan{}
	}
	total := parser.MaxPage(content.HTML)
	logger.Debug("pages planned", "url", u, "total", total)
	return Plan{TotalPages: total, First: &content}
}

// PlanPages returns the total page count for f.
func (p *Planner) PlanPages(ctx context.Context, f model.Filters) int {
	return p.Plan(ctx, f).TotalPages
}
