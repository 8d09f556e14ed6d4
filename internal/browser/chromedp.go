package browser

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// ChromeFetcher drives headless Chrome through chromedp. One allocator
// (browser process) is shared; each fetch gets its own tab.
type ChromeFetcher struct {
	config      Config
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	front       *front
}

// NewChrome creates a chromedp fetcher. The browser process starts lazily
// on the first fetch.
func NewChrome(cfg Config) (*ChromeFetcher, error) {
	cfg = cfg.withDefaults()

	opts := allocatorOptions(cfg)
	path := cfg.ChromePath
	if path == "" {
		path = FindChromePath()
	}
	if path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	logger.Debug("chromedp fetcher created",
		"stealth", cfg.Stealth,
		"flaresolverr", cfg.FlareSolverrURL != "",
		"timeout", cfg.Timeout)

	return &ChromeFetcher{
		config:      cfg,
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		front:       newFront(cfg),
	}, nil
}

// Fetch retrieves a rendered page.
func (f *ChromeFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	if f.front.enabled() {
		content, ok, err := f.front.fetch(ctx, targetURL)
		if ok {
			return content, err
		}
	}
	return f.render(ctx, targetURL, opts)
}

func (f *ChromeFetcher) render(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now(), Backend: fetcher.BackendBrowser}

	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	defer cancelTab()

	// tie the tab to the caller's context as well
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	var actions []chromedp.Action
	cookies := slices.Concat(f.front.clearance(hostOf(targetURL)), opts.Cookies)
	if len(cookies) > 0 {
		actions = append(actions, setCookies(targetURL, cookies))
	}
	if len(opts.Headers) > 0 {
		headers := network.Headers{}
		for k, v := range opts.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	if f.config.Stealth {
		actions = append(actions, injectStealth())
	}

	waitFor := opts.WaitForSelector
	if waitFor == "" {
		waitFor = "body"
	}
	var html, title string
	actions = append(actions,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady(waitFor),
		chromedp.OuterHTML("html", &html),
		chromedp.Title(&title),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("browser timeout, page may be held by a challenge", "url", targetURL)
			return result, fmt.Errorf("%w: %v", fetcher.ErrChallengeTimeout, err)
		}
		return result, fmt.Errorf("browser automation failed: %w", err)
	}

	result.HTML = html
	result.Title = title
	// chromedp does not expose the navigation status
	result.StatusCode = 200

	result, err := fetcher.Finish(result)
	logger.Debug("chromedp fetch complete", "url", targetURL, "title", result.Title, "error", err)
	return result, err
}

// Close stops the browser and destroys FlareSolverr sessions.
func (f *ChromeFetcher) Close() error {
	f.front.close()
	if f.cancelAlloc != nil {
		f.cancelAlloc()
	}
	return nil
}

// Type returns the backend name.
func (f *ChromeFetcher) Type() string {
	return fetcher.BackendBrowser
}

func setCookies(targetURL string, cookies []fetcher.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		u, err := url.Parse(targetURL)
		if err != nil {
			return fmt.Errorf("failed to parse URL for cookies: %w", err)
		}
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &network.CookieParam{
				Name:   c.Name,
				Value:  c.Value,
				Domain: cmp.Or(c.Domain, u.Host),
				Path:   "/",
				Secure: u.Scheme == "https",
			})
		}
		return network.SetCookies(params).Do(ctx)
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
