package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/jmylchreest/carwatch/internal/logger"
)

// StaticConfig holds configuration for the static fetcher.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps the response body in bytes; 0 keeps colly's default.
	MaxBodySize int
	// RotateUserAgent picks a random user agent on every retry.
	RotateUserAgent bool
	Headers         map[string]string
}

// DefaultStaticConfig returns sensible defaults.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		UserAgent:       DefaultUserAgent,
		Timeout:         30 * time.Second,
		RotateUserAgent: true,
		Headers:         DefaultHeaders(),
	}
}

// StaticFetcher uses Colly for plain HTTP fetching. It is the cheapest
// backend and the first one the site blocks.
type StaticFetcher struct {
	config StaticConfig
}

// NewStatic creates a new static fetcher.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	def := DefaultStaticConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Headers == nil {
		cfg.Headers = def.Headers
	}
	return &StaticFetcher{config: cfg}
}

// Fetch retrieves page content using Colly.
func (f *StaticFetcher) Fetch(ctx context.Context, targetURL string, opts Options) (Content, error) {
	result := Content{
		URL:       targetURL,
		FetchedAt: time.Now(),
		Backend:   BackendStatic,
	}

	userAgent := coalesce(opts.UserAgent, f.config.UserAgent)
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	c.Context = ctx
	c.ParseHTTPErrorResponse = true
	if f.config.MaxBodySize > 0 {
		c.MaxBodySize = f.config.MaxBodySize
	}
	if f.config.RotateUserAgent && opts.Attempt > 0 && opts.UserAgent == "" {
		extensions.RandomUserAgent(c)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	c.SetRequestTimeout(timeout)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range f.config.Headers {
			r.Headers.Set(k, v)
		}
		for k, v := range opts.Headers {
			r.Headers.Set(k, v)
		}
		for _, ck := range opts.Cookies {
			r.Headers.Add("Cookie", ck.Name+"="+ck.Value)
		}
	})

	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.HTML = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			result.HTML = string(r.Body)
		}
		fetchErr = fmt.Errorf("fetch error: %w", err)
	})

	logger.Debug("static fetch", "url", targetURL, "attempt", opts.Attempt, "timeout", timeout)
	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		return result, fmt.Errorf("failed to visit URL: %w", err)
	}
	if fetchErr != nil {
		if blockErr := Classify(result.StatusCode, "", result.HTML); blockErr != nil {
			return result, blockErr
		}
		return result, fetchErr
	}

	result, err := Finish(result)
	logger.Debug("static fetch complete",
		"url", targetURL,
		"status", result.StatusCode,
		"body_size", len(result.HTML),
		"error", err)
	return result, err
}

// Close releases resources.
func (f *StaticFetcher) Close() error {
	return nil
}

// Type returns the fetcher type.
func (f *StaticFetcher) Type() string {
	return BackendStatic
}
