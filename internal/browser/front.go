package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// front routes fetches through FlareSolverr when configured, keeping one
// session per host and the clearance cookies it hands back.
type front struct {
	solver *FlareSolverr

	mu       sync.Mutex
	sessions map[string]string
	cookies  map[string][]fetcher.Cookie
}

func newFront(cfg Config) *front {
	f := &front{
		sessions: make(map[string]string),
		cookies:  make(map[string][]fetcher.Cookie),
	}
	if cfg.FlareSolverrURL != "" {
		f.solver = NewFlareSolverr(cfg.FlareSolverrURL, cfg.Timeout)
	}
	return f
}

func (f *front) enabled() bool { return f.solver != nil }

func (f *front) session(ctx context.Context, host string) string {
	f.mu.Lock()
	id, ok := f.sessions[host]
	f.mu.Unlock()
	if ok {
		return id
	}

	id = "carwatch-" + strings.ReplaceAll(host, ".", "-")
	if err := f.solver.CreateSession(ctx, id); err != nil {
		// the session may already exist from an earlier process
		logger.Debug("flaresolverr session create failed, reusing id", "session", id, "error", err)
	}
	f.mu.Lock()
	f.sessions[host] = id
	f.mu.Unlock()
	return id
}

// fetch solves targetURL. ok is false when FlareSolverr returned no body
// and the caller should drive the browser itself.
func (f *front) fetch(ctx context.Context, targetURL string) (content fetcher.Content, ok bool, err error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return fetcher.Content{}, false, fmt.Errorf("invalid URL: %w", err)
	}
	content = fetcher.Content{URL: targetURL, FetchedAt: time.Now(), Backend: fetcher.BackendBrowser}

	sol, err := f.solver.Solve(ctx, targetURL, f.session(ctx, u.Host))
	if err != nil {
		return content, true, err
	}
	if len(sol.Cookies) > 0 {
		f.mu.Lock()
		f.cookies[u.Host] = sol.cookies()
		f.mu.Unlock()
	}
	if sol.Response == "" {
		logger.Debug("flaresolverr returned no body, falling back to browser", "url", targetURL)
		return content, false, nil
	}

	content.HTML = sol.Response
	content.StatusCode = sol.Status
	content, err = fetcher.Finish(content)
	return content, true, err
}

// clearance returns cookies previously obtained for host.
func (f *front) clearance(host string) []fetcher.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies[host]
}

func (f *front) close() {
	if f.solver == nil {
		return
	}
	f.mu.Lock()
	ids := make([]string, 0, len(f.sessions))
	for _, id := range f.sessions {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		f.solver.DestroySession(ctx, id)
	}
}
