package crawler

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jmylchreest/carwatch/internal/model"
)

// DefaultBaseURL is the marketplace root.
const DefaultBaseURL = "https://turbo.az"

// URLBuilder turns filters into search result URLs.
type URLBuilder struct {
	base string
}

// NewURLBuilder creates a builder rooted at base.
func NewURLBuilder(base string) URLBuilder {
	if base == "" {
		base = DefaultBaseURL
	}
	return URLBuilder{base: strings.TrimRight(base, "/")}
}

// Landing returns the site landing page, used as the canary target.
func (b URLBuilder) Landing() string {
	return b.base + "/"
}

// Page returns the filtered listing URL for a 1-based page index.
func (b URLBuilder) Page(f model.Filters, page int) string {
	q := url.Values{}
	if f.MakeID != "" {
		q.Set("q[make][]", f.MakeID)
	}
	if f.ModelID != "" {
		q.Set("q[model][]", f.ModelID)
	}
	if f.PriceFrom != nil {
		q.Set("q[price_from]", strconv.FormatInt(*f.PriceFrom, 10))
	}
	if f.PriceTo != nil {
		q.Set("q[price_to]", strconv.FormatInt(*f.PriceTo, 10))
	}
	if f.YearFrom != nil {
		q.Set("q[year_from]", strconv.Itoa(*f.YearFrom))
	}
	if f.YearTo != nil {
		q.Set("q[year_to]", strconv.Itoa(*f.YearTo))
	}
	if page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	return b.base + "/autos?" + q.Encode()
}
