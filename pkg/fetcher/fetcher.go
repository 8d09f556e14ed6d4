// Package fetcher defines the backend contract used by the strategy manager.
// Backends differ in cost and in how easily the target site can tell them
// apart from a real browser; all of them return the same Content.
package fetcher

import (
	"context"
	"errors"
	"time"
)

// Backend names, cheapest first.
const (
	BackendStatic      = "static"
	BackendImpersonate = "impersonate"
	BackendBrowser     = "browser"
)

// Fetcher abstracts one page-retrieval strategy.
type Fetcher interface {
	// Fetch retrieves page content from a URL. A response the site used to
	// block the client is returned together with ErrAntiBot or
	// ErrCaptchaChallenge so callers can escalate.
	Fetch(ctx context.Context, url string, opts Options) (Content, error)

	// Close releases any resources (browser instances, idle connections).
	Close() error

	// Type returns the backend name.
	Type() string
}

// Options controls a single fetch.
type Options struct {
	UserAgent       string
	Timeout         time.Duration
	WaitForSelector string // CSS selector to wait for (browser backend)
	Headers         map[string]string
	Cookies         []Cookie

	// Attempt is the zero-based retry counter. Backends use it to rotate
	// user agents and TLS fingerprints between retries.
	Attempt int
}

// Cookie represents an HTTP cookie.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Content represents fetched page data.
type Content struct {
	URL         string
	HTML        string
	Text        string
	Title       string
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
	Links       []string
	Backend     string
}

// Check with errors.Is(err, fetcher.ErrAntiBot).
var (
	// ErrCaptchaChallenge indicates the site served an interactive CAPTCHA.
	ErrCaptchaChallenge = errors.New("captcha challenge detected")
	// ErrAntiBot indicates the site's anti-bot protection blocked the request.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates a timeout while waiting for a challenge to resolve.
	ErrChallengeTimeout = errors.New("challenge timeout")
)

// IsBlocked reports whether err carries a blocking signal.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrAntiBot) ||
		errors.Is(err, ErrCaptchaChallenge) ||
		errors.Is(err, ErrChallengeTimeout)
}
