package browser

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// RodFetcher drives Chrome through go-rod. Pages are created with
// go-rod/stealth so the evasion set matches puppeteer-extra.
type RodFetcher struct {
	config Config
	front  *front

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRod creates a rod fetcher. The browser is launched on first use.
func NewRod(cfg Config) (*RodFetcher, error) {
	cfg = cfg.withDefaults()
	logger.Debug("rod fetcher created", "flaresolverr", cfg.FlareSolverrURL != "", "timeout", cfg.Timeout)
	return &RodFetcher{config: cfg, front: newFront(cfg)}, nil
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-blink-features", "AutomationControlled")
	if path := cmp.Or(f.config.ChromePath, FindChromePath()); path != "" {
		l = l.Bin(path)
	}
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("browser started", "engine", EngineRod)
	f.browser = b
	return b, nil
}

// Fetch retrieves a rendered page.
func (f *RodFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	if f.front.enabled() {
		content, ok, err := f.front.fetch(ctx, targetURL)
		if ok {
			return content, err
		}
	}
	return f.render(ctx, targetURL, opts)
}

func (f *RodFetcher) render(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now(), Backend: fetcher.BackendBrowser}

	b, err := f.connect()
	if err != nil {
		return result, err
	}

	var page *rod.Page
	if f.config.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return result, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	timeout := cmp.Or(opts.Timeout, f.config.Timeout)
	p := page.Context(ctx).Timeout(timeout)

	ua := cmp.Or(opts.UserAgent, f.config.UserAgent)
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua, AcceptLanguage: "az,en;q=0.5"}); err != nil {
		logger.Debug("set user agent failed", "error", err)
	}
	if cookies := slices.Concat(f.front.clearance(hostOf(targetURL)), opts.Cookies); len(cookies) > 0 {
		if err := p.SetCookies(rodCookies(targetURL, cookies)); err != nil {
			logger.Debug("set cookies failed", "error", err)
		}
	}
	if len(opts.Headers) > 0 {
		dict := make([]string, 0, 2*len(opts.Headers))
		for k, v := range opts.Headers {
			dict = append(dict, k, v)
		}
		if cleanup, err := p.SetExtraHeaders(dict); err == nil {
			defer cleanup()
		}
	}

	waitFor := cmp.Or(opts.WaitForSelector, "body")
	err = p.Navigate(targetURL)
	if err == nil {
		err = p.WaitLoad()
	}
	if err == nil {
		_, err = p.Element(waitFor)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("browser timeout, page may be held by a challenge", "url", targetURL)
			return result, fmt.Errorf("%w: %v", fetcher.ErrChallengeTimeout, err)
		}
		return result, fmt.Errorf("browser automation failed: %w", err)
	}

	html, err := p.HTML()
	if err != nil {
		return result, fmt.Errorf("read page html: %w", err)
	}
	if info, err := p.Info(); err == nil {
		result.Title = info.Title
	}
	result.HTML = html
	result.StatusCode = 200

	result, err = fetcher.Finish(result)
	logger.Debug("rod fetch complete", "url", targetURL, "title", result.Title, "error", err)
	return result, err
}

// Close stops the browser and destroys FlareSolverr sessions.
func (f *RodFetcher) Close() error {
	f.front.close()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}

// Type returns the backend name.
func (f *RodFetcher) Type() string {
	return fetcher.BackendBrowser
}

func rodCookies(targetURL string, cookies []fetcher.Cookie) []*proto.NetworkCookieParam {
	u, _ := url.Parse(targetURL)
	host := ""
	secure := false
	if u != nil {
		host = u.Host
		secure = u.Scheme == "https"
	}
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: cmp.Or(c.Domain, host),
			Path:   "/",
			Secure: secure,
		})
	}
	return out
}
