package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/carwatch/internal/logger"
	"github.com/jmylchreest/carwatch/pkg/fetcher"
)

// ErrFlareSolverrUnavailable indicates the FlareSolverr service is not reachable.
var ErrFlareSolverrUnavailable = errors.New("flaresolverr unavailable")

// FlareSolverr is a client for the FlareSolverr v1 API.
type FlareSolverr struct {
	endpoint   string
	httpClient *http.Client
	maxTimeout time.Duration
}

type flareRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type flareResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Solution *Solution `json:"solution,omitempty"`
}

// Solution is a solved page.
type Solution struct {
	URL       string        `json:"url"`
	Status    int           `json:"status"`
	Response  string        `json:"response"`
	UserAgent string        `json:"userAgent"`
	Cookies   []flareCookie `json:"cookies"`
}

type flareCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// NewFlareSolverr creates a client for the API at endpoint, e.g.
// "http://localhost:8191/v1". maxTimeout bounds challenge solving.
func NewFlareSolverr(endpoint string, maxTimeout time.Duration) *FlareSolverr {
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareSolverr{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: maxTimeout + 30*time.Second},
		maxTimeout: maxTimeout,
	}
}

// Solve fetches targetURL through FlareSolverr within session.
func (f *FlareSolverr) Solve(ctx context.Context, targetURL, session string) (*Solution, error) {
	var resp flareResponse
	err := f.call(ctx, flareRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		Session:    session,
		MaxTimeout: f.maxTimeout.Milliseconds(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, classifyMessage(resp.Message)
	}
	if resp.Solution == nil {
		return nil, fmt.Errorf("%w: no solution returned", fetcher.ErrAntiBot)
	}
	logger.Debug("flaresolverr solved",
		"url", targetURL,
		"session", session,
		"status_code", resp.Solution.Status,
		"cookies", len(resp.Solution.Cookies))
	return resp.Solution, nil
}

// CreateSession starts a persistent browser in FlareSolverr so clearance
// cookies survive between requests.
func (f *FlareSolverr) CreateSession(ctx context.Context, session string) error {
	var resp flareResponse
	if err := f.call(ctx, flareRequest{Cmd: "sessions.create", Session: session}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("session create failed: %s", resp.Message)
	}
	return nil
}

// DestroySession stops a persistent session. Failures are logged only.
func (f *FlareSolverr) DestroySession(ctx context.Context, session string) {
	var resp flareResponse
	if err := f.call(ctx, flareRequest{Cmd: "sessions.destroy", Session: session}, &resp); err != nil {
		logger.Debug("flaresolverr session destroy failed", "session", session, "error", err)
		return
	}
	logger.Debug("flaresolverr session destroyed", "session", session, "status", resp.Status)
}

// call posts req and decodes the JSON reply. FlareSolverr answers errors
// with status 500 and a JSON body, so the status code is not checked.
func (f *FlareSolverr) call(ctx context.Context, req flareRequest, out *flareResponse) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", req.Cmd, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", req.Cmd, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFlareSolverrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", req.Cmd, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warn("flaresolverr returned invalid response", "status_code", resp.StatusCode)
		return fmt.Errorf("failed to parse %s response: %w", req.Cmd, err)
	}
	return nil
}

// messageClasses maps FlareSolverr error text to fetch errors, in order.
var messageClasses = []struct {
	markers []string
	err     error
}{
	{[]string{"timeout", "timed out"}, fetcher.ErrChallengeTimeout},
	{[]string{"could not be solved", "unable to solve", "failed to solve", "captcha", "turnstile", "challenge", "cloudflare"}, fetcher.ErrCaptchaChallenge},
	{[]string{"blocked", "denied", "forbidden", "403"}, fetcher.ErrAntiBot},
}

// classifyMessage turns a FlareSolverr error message into a typed error.
// Unrecognized messages are plain errors so the manager retries them
// without treating them as blocking.
func classifyMessage(message string) error {
	lower := strings.ToLower(message)
	for _, c := range messageClasses {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return fmt.Errorf("%w: %s", c.err, message)
			}
		}
	}
	return fmt.Errorf("flaresolverr: %s", message)
}

// cookies converts solution cookies for reuse by the browser.
func (s *Solution) cookies() []fetcher.Cookie {
	out := make([]fetcher.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, fetcher.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	return out
}
