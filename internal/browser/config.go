// Package browser implements the browser fetch backend: a real headless
// Chrome driven through chromedp or rod, optionally fronted by a
// FlareSolverr proxy that solves Cloudflare interstitials.
package browser

import (
	"fmt"
	"time"

	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// Engine names.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Config holds configuration for the browser backend.
type Config struct {
	Engine          string
	UserAgent       string
	Timeout         time.Duration
	Stealth         bool
	FlareSolverrURL string
	ChromePath      string // empty means search well-known locations
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:    EngineChromedp,
		UserAgent: fetcher.DefaultUserAgent,
		Timeout:   45 * time.Second,
		Stealth:   true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Engine == "" {
		c.Engine = def.Engine
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// New creates the browser fetcher for cfg.Engine.
func New(cfg Config) (fetcher.Fetcher, error) {
	cfg = cfg.withDefaults()
	switch cfg.Engine {
	case EngineChromedp:
		return NewChrome(cfg)
	case EngineRod:
		return NewRod(cfg)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}
