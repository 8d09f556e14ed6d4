package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/jmylchreest/carwatch/internal/logger"
)

// Profile pairs a TLS ClientHello fingerprint with the user agent of the
// same browser family.
type Profile struct {
	Name  string
	Hello utls.ClientHelloID
}

// DefaultProfiles are rotated across retries, one per attempt.
var DefaultProfiles = []Profile{
	{Name: "chrome", Hello: utls.HelloChrome_Auto},
	{Name: "firefox", Hello: utls.HelloFirefox_Auto},
	{Name: "safari", Hello: utls.HelloSafari_Auto},
	{Name: "edge", Hello: utls.HelloEdge_Auto},
}

// ImpersonateConfig holds configuration for the impersonating fetcher.
type ImpersonateConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	Profiles    []Profile
	Headers     map[string]string
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// ImpersonateFetcher speaks HTTP/1.1 over a TLS connection whose handshake
// mimics a real browser, defeating JA3-style client fingerprinting.
type ImpersonateFetcher struct {
	config ImpersonateConfig

	mu         sync.Mutex
	transports map[string]*http.Transport
}

// NewImpersonate creates a new impersonating fetcher.
func NewImpersonate(cfg ImpersonateConfig) *ImpersonateFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = DefaultProfiles
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 10 << 20
	}
	return &ImpersonateFetcher{
		config:     cfg,
		transports: make(map[string]*http.Transport),
	}
}

// profileFor picks the fingerprint used on a given attempt.
func (f *ImpersonateFetcher) profileFor(attempt int) Profile {
	if attempt < 0 {
		attempt = 0
	}
	return f.config.Profiles[attempt%len(f.config.Profiles)]
}

func (f *ImpersonateFetcher) transport(p Profile) *http.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.transports[p.Name]; ok {
		return t
	}
	dialer := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return f.dialTLS(ctx, dialer, p, network, addr)
		},
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: f.config.Timeout,
	}
	f.transports[p.Name] = t
	return t
}

// dialTLS performs the uTLS handshake. ALPN is pinned to http/1.1 because
// net/http cannot speak h2 over a non-crypto/tls connection.
func (f *ImpersonateFetcher) dialTLS(ctx context.Context, dialer *net.Dialer, p Profile, network, addr string) (net.Conn, error) {
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	spec, err := utls.UTLSIdToSpec(p.Hello)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls profile %s: %w", p.Name, err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	conn := utls.UClient(raw, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: f.config.InsecureSkipVerify,
	}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		raw.Close()
		return nil, fmt.Errorf("apply tls profile %s: %w", p.Name, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake (%s): %w", p.Name, err)
	}
	return conn, nil
}

// Fetch retrieves a page with the fingerprint selected by opts.Attempt.
func (f *ImpersonateFetcher) Fetch(ctx context.Context, targetURL string, opts Options) (Content, error) {
	profile := f.profileFor(opts.Attempt)
	result := Content{
		URL:       targetURL,
		FetchedAt: time.Now(),
		Backend:   BackendImpersonate,
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return result, fmt.Errorf("invalid request: %w", err)
	}
	for k, v := range f.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", coalesce(opts.UserAgent, userAgents[profile.Name], DefaultUserAgent))
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	logger.Debug("impersonate fetch", "url", targetURL, "profile", profile.Name, "attempt", opts.Attempt)

	client := &http.Client{Transport: f.transport(profile)}
	resp, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		return result, fmt.Errorf("read body: %w", err)
	}
	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	result.HTML = string(body)

	return Finish(result)
}

// Close drops idle connections.
func (f *ImpersonateFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
	return nil
}

// Type returns the fetcher type.
func (f *ImpersonateFetcher) Type() string {
	return BackendImpersonate
}
