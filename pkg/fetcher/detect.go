package fetcher

import (
	"fmt"
	"net/http"
	"strings"
)

// DetectChallenge inspects a page for anti-bot interstitials and returns the
// challenge kind, or "" when the page looks like real content.
func DetectChallenge(title, html string) string {
	titleLower := strings.ToLower(title)
	htmlLower := strings.ToLower(html)

	switch {
	case strings.Contains(titleLower, "just a moment"),
		strings.Contains(titleLower, "attention required"),
		strings.Contains(htmlLower, "cf-challenge"),
		strings.Contains(htmlLower, "cf_chl_opt"):
		return "cloudflare"
	case strings.Contains(htmlLower, "challenges.cloudflare.com/turnstile"),
		strings.Contains(htmlLower, "cf-turnstile"):
		return "cloudflare-turnstile"
	case strings.Contains(htmlLower, "hcaptcha.com"),
		strings.Contains(htmlLower, "h-captcha"):
		return "hcaptcha"
	case strings.Contains(htmlLower, "google.com/recaptcha"),
		strings.Contains(htmlLower, "g-recaptcha"):
		return "recaptcha"
	case strings.Contains(titleLower, "access denied"),
		strings.Contains(titleLower, "bot detection"),
		strings.Contains(htmlLower, "robot or human"),
		strings.Contains(htmlLower, "unusual traffic"),
		strings.Contains(htmlLower, "ddos-guard"):
		return "anti-bot"
	}
	return ""
}

// Classify turns a received response into a blocking error, or nil when the
// page is usable. HTTP 403 and 429 always count as blocked.
func Classify(statusCode int, title, html string) error {
	switch statusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: http %d", ErrAntiBot, statusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", ErrAntiBot, statusCode)
	}

	switch kind := DetectChallenge(title, html); kind {
	case "":
		return nil
	case "hcaptcha", "recaptcha", "cloudflare-turnstile":
		return fmt.Errorf("%w: %s", ErrCaptchaChallenge, kind)
	default:
		return fmt.Errorf("%w: %s", ErrAntiBot, kind)
	}
}
