package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// fakeSource serves canned pages by URL. Unknown URLs fail.
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string]string
	calls    []string
	errors   int
	restarts int
	selects  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[string]string)}
}

func (s *fakeSource) Fetch(_ context.Context, u string) (fetcher.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, u)
	html, ok := s.pages[u]
	if !ok {
		s.errors++
		return fetcher.Content{URL: u}, errors.New("not served")
	}
	return fetcher.Content{URL: u, HTML: html, StatusCode: 200}, nil
}

func (s *fakeSource) Select(context.Context, string) (string, error) {
	s.mu.Lock()
	s.selects++
	s.mu.Unlock()
	return fetcher.BackendStatic, nil
}

func (s *fakeSource) Backend() string { return fetcher.BackendStatic }

func (s *fakeSource) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *fakeSource) Restart() {
	s.mu.Lock()
	s.restarts++
	s.errors = 0
	s.mu.Unlock()
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// resultsPage renders listing cards plus pagination links up to lastPage.
func resultsPage(ids []int, lastPage int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="products-i"><a class="products-i__link" href="/autos/%d-car"></a>
<div class="products-i__name">Toyota Camry</div>
<div class="products-i__price">%d 000 ₼</div>
<div class="products-i__attributes">2020, 2.5 L, 40 000 km</div>
<div class="products-i__datetime">Bakı, bugün</div></div>`, id, id%90+10)
	}
	b.WriteString(`<div class="pagination">`)
	for p := 1; p <= lastPage; p++ {
		fmt.Fprintf(&b, `<a href="/autos?page=%d">%d</a>`, p, p)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func detailPage(views int) string {
	return fmt.Sprintf("<html><body><span>Baxışların sayı: %d</span></body></html>", views)
}

func newTestCrawler(src Source, cfg Config) (*Crawler, *[]time.Duration) {
	c := New(src, cfg)
	pauses := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	}
	return c, pauses
}

// --- URLBuilder Tests ---

func TestURLBuilder_Page(t *testing.T) {
	b := NewURLBuilder("https://turbo.az/")
	got := b.Page(model.Filters{
		MakeID:    "3",
		ModelID:   "51",
		PriceFrom: model.Int64(10000),
		YearTo:    model.Int(2020),
	}, 4)

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", got, err)
	}
	if u.Path != "/autos" {
		t.Errorf("expected /autos, got %q", u.Path)
	}
	q := u.Query()
	checks := map[string]string{
		"q[make][]":     "3",
		"q[model][]":    "51",
		"q[price_from]": "10000",
		"q[year_to]":    "2020",
		"page":          "4",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, q.Get(k), want)
		}
	}
	if q.Has("q[price_to]") || q.Has("q[year_from]") {
		t.Error("unset filters must not appear in the URL")
	}
}

func TestURLBuilder_Landing(t *testing.T) {
	if got := NewURLBuilder("").Landing(); got != "https://turbo.az/" {
		t.Errorf("expected default landing page, got %q", got)
	}
}

// --- Planner Tests ---

func TestPlanner_PlanPages(t *testing.T) {
	src := newFakeSource()
	b := NewURLBuilder("")
	src.pages[b.Page(model.Filters{}, 1)] = resultsPage([]int{1}, 7)

	p := NewPlanner(src, b)
	if got := p.PlanPages(context.Background(), model.Filters{}); got != 7 {
		t.Errorf("expected 7 pages, got %d", got)
	}
}

func TestPlanner_SinglePage(t *testing.T) {
	src := newFakeSource()
	b := NewURLBuilder("")
	src.pages[b.Page(model.Filters{}, 1)] = resultsPage([]int{1}, 0)

	if got := NewPlanner(src, b).PlanPages(context.Background(), model.Filters{}); got != 1 {
		t.Errorf("expected 1 page, got %d", got)
	}
}

func TestPlanner_FirstPageFails(t *testing.T) {
	src := newFakeSource()
	if got := NewPlanner(src, NewURLBuilder("")).PlanPages(context.Background(), model.Filters{}); got != 0 {
		t.Errorf("expected 0 pages, got %d", got)
	}
}

// --- Run Tests ---

func TestRun_ZeroPages(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCrawler(src, Config{})

	res, err := c.Run(context.Background(), model.Filters{MakeID: "999"}, 10, true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Listings) != 0 || res.PagesPlanned != 0 || res.PagesFetched != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if src.callCount() != 1 {
		t.Errorf("expected only the page-count probe, got %d fetches", src.callCount())
	}
}

func TestRun_TwoPagesDeduplicated(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCrawler(src, Config{})
	b := NewURLBuilder("")
	f := model.Filters{MakeID: "23"}

	// id 100 is a VIP card repeated on both pages
	src.pages[b.Page(f, 1)] = resultsPage([]int{100, 1, 2}, 2)
	src.pages[b.Page(f, 2)] = resultsPage([]int{100, 3, 4}, 2)

	res, err := c.Run(context.Background(), f, 50, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PagesPlanned != 2 || res.PagesFetched != 2 {
		t.Errorf("expected 2/2 pages, got %d/%d", res.PagesFetched, res.PagesPlanned)
	}
	if len(res.Listings) != 5 {
		t.Fatalf("expected 5 unique listings, got %d", len(res.Listings))
	}
	if res.Listings[0].ID != "100" {
		t.Errorf("expected page order to be preserved, first id %q", res.Listings[0].ID)
	}
	if src.callCount() != 2 {
		t.Errorf("page 1 should be reused from planning, got %d fetches", src.callCount())
	}
	if src.selects != 1 || src.restarts != 1 {
		t.Errorf("expected one restart and one selection per run, got %d/%d", src.restarts, src.selects)
	}
}

func TestRun_PageBudget(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCrawler(src, Config{})
	b := NewURLBuilder("")
	for p := 1; p <= 5; p++ {
		src.pages[b.Page(model.Filters{}, p)] = resultsPage([]int{p * 10}, 5)
	}

	res, err := c.Run(context.Background(), model.Filters{}, 3, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PagesPlanned != 5 || res.PagesFetched != 3 {
		t.Errorf("expected 3 of 5 pages, got %d of %d", res.PagesFetched, res.PagesPlanned)
	}
	if len(res.Listings) != 3 {
		t.Errorf("expected 3 listings, got %d", len(res.Listings))
	}
}

func TestRun_FailedPageCounted(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCrawler(src, Config{})
	b := NewURLBuilder("")
	src.pages[b.Page(model.Filters{}, 1)] = resultsPage([]int{1, 2}, 3)
	src.pages[b.Page(model.Filters{}, 3)] = resultsPage([]int{5}, 3)

	res, err := c.Run(context.Background(), model.Filters{}, 0, false)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.PagesFetched != 2 {
		t.Errorf("expected 2 fetched pages, got %d", res.PagesFetched)
	}
	if res.Errors != 1 {
		t.Errorf("expected 1 error, got %d", res.Errors)
	}
	if len(res.Listings) != 3 {
		t.Errorf("expected 3 listings, got %d", len(res.Listings))
	}
}

func TestRun_WithDetailsInBatches(t *testing.T) {
	src := newFakeSource()
	c, pauses := newTestCrawler(src, Config{DetailBatchSize: 2, DetailBatchPause: time.Second})
	b := NewURLBuilder("")
	src.pages[b.Page(model.Filters{}, 1)] = resultsPage([]int{1, 2, 3, 4, 5}, 1)
	for id := 1; id <= 4; id++ {
		src.pages[fmt.Sprintf("https://turbo.az/autos/%d-car", id)] = detailPage(id * 100)
	}

	res, err := c.Run(context.Background(), model.Filters{}, 0, true)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.DetailsFetch != 4 {
		t.Errorf("expected 4 enriched listings, got %d", res.DetailsFetch)
	}
	for _, l := range res.Listings {
		if l.ID == "5" {
			if l.Views != nil {
				t.Errorf("listing 5 detail failed, views should stay unknown, got %d", *l.Views)
			}
			continue
		}
		if l.Views == nil {
			t.Errorf("listing %s: expected views", l.ID)
		}
	}
	// 5 listings in batches of 2 -> 3 batches -> 2 pauses
	if len(*pauses) != 2 {
		t.Errorf("expected 2 batch pauses, got %d", len(*pauses))
	}
	if res.Errors != 1 {
		t.Errorf("expected 1 failed detail fetch, got %d", res.Errors)
	}
}
