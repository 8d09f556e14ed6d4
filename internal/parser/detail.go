package parser

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/carwatch/internal/model"
)

// ParseDetailViews reads the view counter from a listing detail page. ok is
// false when the phrase is missing, in which case the caller keeps whatever
// count it already had.
func ParseDetailViews(html string) (views int64, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.ReplaceAll(doc.Text(), "\u00a0", " ")

	m := viewsPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.Join(strings.Fields(m[1]), ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MergeDetail applies detail-page data onto a listing without clobbering
// known values with unknown ones.
func MergeDetail(l *model.Listing, html string) bool {
	views, ok := ParseDetailViews(html)
	if !ok {
		return false
	}
	l.Views = &views
	return true
}

// MaxPage scans every pagination link and returns the highest page index,
// or 1 when the page has no pagination.
func MaxPage(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 1
	}

	maxPage := 1
	doc.Find(selPagination).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			if u, err := url.Parse(href); err == nil {
				if n, err := strconv.Atoi(u.Query().Get("page")); err == nil && n > maxPage {
					maxPage = n
				}
			}
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > maxPage {
			maxPage = n
		}
	})
	return maxPage
}
