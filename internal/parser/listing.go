// Package parser turns fetched turbo.az pages into listing records. All
// functions are pure; selectors are kept in selectors.go.
package parser

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/model"
)

// ErrNoIdentity marks a listing card without a usable detail link.
var ErrNoIdentity = errors.New("listing has no identity")

// ParseListingPage extracts every listing card on a search results page.
// Cards that cannot be identified are skipped; other fields are optional.
func ParseListingPage(html, baseURL string) ([]model.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(baseURL)

	var listings []model.Listing
	doc.Find(selItem).Each(func(i int, s *goquery.Selection) {
		l, err := parseItem(s, base)
		if err != nil {
			logger.Debug("skipping listing card", "index", i, "error", err)
			return
		}
		listings = append(listings, l)
	})
	return listings, nil
}

func parseItem(s *goquery.Selection, base *url.URL) (model.Listing, error) {
	href, _ := s.Find(selLink).First().Attr("href")
	id := ListingID(href)
	if id == "" {
		return model.Listing{}, ErrNoIdentity
	}

	name := cleanText(s.Find(selName).First().Text())
	priceText := cleanText(s.Find(selPrice).First().Text())
	attrText := cleanText(s.Find(selAttributes).First().Text())
	locText := cleanText(s.Find(selLocation).First().Text())

	l := model.Listing{
		ID:        id,
		Name:      name,
		URL:       resolve(base, href),
		IsVIP:     s.HasClass(classVIP),
		IsPremium: s.HasClass(classPremium),
		City:      ParseCity(locText),
	}
	l.Brand, l.Model = SplitName(name)
	l.Price, l.Currency = ParsePrice(priceText)

	attrs := ParseAttributes(attrText)
	l.Year = attrs.Year
	l.Engine = attrs.Engine
	l.Mileage = attrs.Mileage
	l.IsNew = attrs.Mileage != nil && *attrs.Mileage == 0

	raw, err := json.Marshal(map[string]string{
		"name":       name,
		"price":      priceText,
		"attributes": attrText,
		"location":   locText,
		"href":       href,
	})
	if err == nil {
		l.Raw = raw
	}
	return l, nil
}

// ListingID extracts the site id from a detail link such as
// "/autos/8123456-bmw-x5". It returns "" when the link is not a listing.
func ListingID(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != listingPathPrefix {
			continue
		}
		id, _, _ := strings.Cut(parts[i+1], "-")
		if id != "" && isDigits(id) {
			return id
		}
	}
	return ""
}

// SplitName splits a display name on its first whitespace into brand and
// model.
func SplitName(name string) (brand, rest string) {
	name = strings.TrimSpace(name)
	brand, rest, _ = strings.Cut(name, " ")
	return brand, strings.TrimSpace(rest)
}

// ParsePrice extracts the integer amount and currency code from price text
// such as "25 500 $". The amount is nil when no digits are present.
func ParsePrice(text string) (*int64, string) {
	currency := DefaultCurrency
	for _, c := range currencyMarkers {
		if containsAny(text, c.markers) {
			currency = c.code
			break
		}
	}

	joined := strings.Join(digits.FindAllString(strings.ReplaceAll(text, " ", ""), -1), "")
	if joined == "" {
		return nil, currency
	}
	v, err := strconv.ParseInt(joined, 10, 64)
	if err != nil {
		return nil, currency
	}
	return &v, currency
}

// Attributes are the fields packed into the comma-separated attribute line.
type Attributes struct {
	Year    *int
	Engine  string
	Mileage *int64
}

// ParseAttributes reads "2018, 2.0 L, 85 000 km": a four-digit token is the
// year, a token with the volume unit is the engine, a token with the
// distance unit is the mileage.
func ParseAttributes(text string) Attributes {
	var a Attributes
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case yearPattern.MatchString(part):
			y, _ := strconv.Atoi(part)
			a.Year = &y
		case strings.Contains(part, "L"):
			a.Engine = part
		case strings.Contains(strings.ToLower(part), "km"):
			km := strings.Join(digits.FindAllString(strings.ReplaceAll(part, " ", ""), -1), "")
			var v int64
			if km != "" {
				v, _ = strconv.ParseInt(km, 10, 64)
			}
			a.Mileage = &v
		}
	}
	return a
}

// ParseCity returns the first comma segment of the location line.
func ParseCity(text string) string {
	city, _, _ := strings.Cut(text, ",")
	return strings.TrimSpace(city)
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
