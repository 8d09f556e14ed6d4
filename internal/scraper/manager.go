// Package scraper implements the fetch strategy manager: it owns the
// backends, decides which one a run uses, and enforces retry, pacing and
// concurrency limits so callers only see fetch(url) -> content or failure.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/internal/metrics"
	"github.com/jmylchreest/carwatch/internal/ratelimit"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// Mode pins a run to one backend or lets the manager choose.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeStatic      Mode = Mode(fetcher.BackendStatic)
	ModeImpersonate Mode = Mode(fetcher.BackendImpersonate)
	ModeBrowser     Mode = Mode(fetcher.BackendBrowser)
)

// ErrRetriesExhausted marks a URL that failed on every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrNoBackends is returned by New when no backend is configured.
var ErrNoBackends = errors.New("no fetch backends configured")

// Backend registers one fetch strategy with its limits.
type Backend struct {
	Fetcher fetcher.Fetcher
	// MaxConcurrent is a hard cap on in-flight requests; extra callers queue.
	MaxConcurrent int64
	// MinDelay is the minimum interval between request starts. Ignored
	// when Limiter is set.
	MinDelay time.Duration
	Limiter  ratelimit.Limiter
}

// Config controls retry and selection behavior.
type Config struct {
	Mode        Mode
	Retries     int           // attempts per URL, default 3
	BackoffStep time.Duration // sleep before attempt n is n*BackoffStep
	Timeout     time.Duration // per attempt; 0 leaves it to the backend
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeAuto,
		Retries:     3,
		BackoffStep: 2 * time.Second,
	}
}

type backend struct {
	name    string
	fetcher fetcher.Fetcher
	sem     *semaphore.Weighted
	limiter ratelimit.Limiter
}

// Manager selects and drives fetch backends. Backends are ordered cheapest
// first; selection only ever moves towards the more expensive end.
type Manager struct {
	cfg      Config
	backends []*backend

	mu       sync.RWMutex
	selected int

	errors atomic.Int64

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a manager over backends given in preference order.
func New(cfg Config, backends ...Backend) (*Manager, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.BackoffStep < 0 {
		cfg.BackoffStep = 0
	}

	m := &Manager{cfg: cfg, sleep: sleepContext}
	for _, b := range backends {
		if b.Fetcher == nil {
			return nil, errors.New("backend without fetcher")
		}
		limit := b.MaxConcurrent
		if limit < 1 {
			limit = 1
		}
		limiter := b.Limiter
		if limiter == nil {
			limiter = ratelimit.NewLocal(b.MinDelay)
		}
		m.backends = append(m.backends, &backend{
			name:    b.Fetcher.Type(),
			fetcher: b.Fetcher,
			sem:     semaphore.NewWeighted(limit),
			limiter: limiter,
		})
	}

	if cfg.Mode != ModeAuto {
		idx := m.indexOf(string(cfg.Mode))
		if idx < 0 {
			return nil, fmt.Errorf("fetch mode %q: backend not configured", cfg.Mode)
		}
		m.selected = idx
	}
	return m, nil
}

func (m *Manager) indexOf(name string) int {
	for i, b := range m.backends {
		if b.name == name {
			return i
		}
	}
	return -1
}

// Backend returns the name of the backend currently in use.
func (m *Manager) Backend() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backends[m.selected].name
}

func (m *Manager) current() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// escalate moves selection past from. It never moves backwards, so a
// backend that was found blocked is not used again in this run.
func (m *Manager) escalate(from int, reason error) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selected > from || from+1 >= len(m.backends) {
		return m.selected
	}
	m.selected = from + 1
	metrics.EscalationsTotal.WithLabelValues(m.backends[from].name, m.backends[m.selected].name).Inc()
	logger.Warn("escalating fetch backend",
		"from", m.backends[from].name,
		"to", m.backends[m.selected].name,
		"reason", reason)
	return m.selected
}

// Select probes backends with a canary request against the site's landing
// page and settles on the cheapest one that is not blocked. The last
// backend is accepted without probing. In a pinned mode this is a no-op.
func (m *Manager) Select(ctx context.Context, canaryURL string) (string, error) {
	if m.cfg.Mode != ModeAuto {
		return m.Backend(), nil
	}

	last := len(m.backends) - 1
	for idx := m.current(); idx < last; idx = m.current() {
		b := m.backends[idx]
		_, err := m.attempt(ctx, b, canaryURL, 0)
		if err == nil {
			logger.Info("fetch backend selected", "backend", b.name)
			return b.name, nil
		}
		if ctx.Err() != nil {
			return b.name, ctx.Err()
		}
		logger.Debug("canary probe failed", "backend", b.name, "blocked", fetcher.IsBlocked(err), "error", err)
		m.escalate(idx, err)
	}

	name := m.Backend()
	logger.Info("fetch backend selected", "backend", name)
	return name, nil
}

// Fetch retrieves url on the selected backend, retrying up to the budget.
// When every attempt was blocked, the manager escalates and starts a fresh
// budget on the next backend. A final failure is counted in Errors.
func (m *Manager) Fetch(ctx context.Context, url string) (fetcher.Content, error) {
	idx := m.current()
	for {
		content, err := m.fetchWithRetry(ctx, m.backends[idx], url)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return content, err
		}

		if fetcher.IsBlocked(err) && m.cfg.Mode == ModeAuto && idx < len(m.backends)-1 {
			if next := m.escalate(idx, err); next > idx {
				idx = next
				continue
			}
		}

		m.errors.Add(1)
		metrics.FetchFailuresTotal.Inc()
		logger.Warn("fetch failed", "url", url, "backend", m.backends[idx].name, "error", err)
		return content, fmt.Errorf("%w: %s: %w", ErrRetriesExhausted, url, err)
	}
}

func (m *Manager) fetchWithRetry(ctx context.Context, b *backend, url string) (fetcher.Content, error) {
	var (
		content fetcher.Content
		err     error
	)
	for attempt := 0; attempt < m.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * m.cfg.BackoffStep
			logger.Debug("retrying fetch", "url", url, "backend", b.name, "attempt", attempt, "backoff", backoff)
			if serr := m.sleep(ctx, backoff); serr != nil {
				return content, serr
			}
		}

		content, err = m.attempt(ctx, b, url, attempt)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil || permanent(err) {
			return content, err
		}
	}
	return content, err
}

// attempt performs one fetch inside the backend's concurrency and pacing
// limits.
func (m *Manager) attempt(ctx context.Context, b *backend, url string, attempt int) (fetcher.Content, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fetcher.Content{}, err
	}
	defer b.sem.Release(1)

	if err := b.limiter.Wait(ctx); err != nil {
		return fetcher.Content{}, err
	}

	gauge := metrics.InFlight.WithLabelValues(b.name)
	gauge.Inc()
	defer gauge.Dec()

	start := time.Now()
	content, err := b.fetcher.Fetch(ctx, url, fetcher.Options{
		Timeout: m.cfg.Timeout,
		Attempt: attempt,
	})
	metrics.FetchDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case fetcher.IsBlocked(err):
		outcome = "blocked"
	case err != nil:
		outcome = "error"
	}
	metrics.FetchRequestsTotal.WithLabelValues(b.name, outcome).Inc()

	if content.Backend == "" {
		content.Backend = b.name
	}
	return content, err
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	var se *fetcher.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
	}
	return false
}

// Errors returns the number of URLs that failed since the last Reset.
func (m *Manager) Errors() int {
	return int(m.errors.Load())
}

// Reset clears the error counter. Backend selection is kept.
func (m *Manager) Reset() {
	m.errors.Store(0)
}

// Restart clears the error counter and, in auto mode, returns selection
// to the cheapest backend so the next run probes again.
func (m *Manager) Restart() {
	m.Reset()
	if m.cfg.Mode != ModeAuto {
		return
	}
	m.mu.Lock()
	m.selected = 0
	m.mu.Unlock()
}

// Close releases every backend.
func (m *Manager) Close() error {
	var errs []error
	for _, b := range m.backends {
		if err := b.fetcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
