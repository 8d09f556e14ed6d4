package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseContent fills Title, Text and Links from content.HTML. A title
// already set by the backend is kept.
func ParseContent(content *Content) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content.HTML))
	if err != nil {
		return err
	}

	if content.Title == "" {
		content.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	var textParts []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		if text := cleanText(s.Text()); text != "" {
			textParts = append(textParts, text)
		}
	})
	content.Text = strings.Join(textParts, "\n")

	baseURL, _ := url.Parse(content.URL)
	content.Links = content.Links[:0]
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linkURL.IsAbs() && baseURL != nil {
			linkURL = baseURL.ResolveReference(linkURL)
		}
		content.Links = append(content.Links, linkURL.String())
	})

	return nil
}

// Finish classifies a received page and parses it. The content is always
// returned so callers can inspect what the site served.
func Finish(content Content) (Content, error) {
	if content.HTML != "" {
		if err := ParseContent(&content); err != nil {
			return content, fmt.Errorf("failed to parse content: %w", err)
		}
	}
	if err := Classify(content.StatusCode, content.Title, content.HTML); err != nil {
		return content, err
	}
	if content.StatusCode >= 400 {
		return content, &StatusError{URL: content.URL, StatusCode: content.StatusCode}
	}
	return content, nil
}

// StatusError is returned for non-blocking HTTP error responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
