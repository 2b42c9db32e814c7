package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/covella/loginguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds edge rate limiting configuration. This is request
// throttling at the transport, independent of the account lockout policy.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultGuardRateLimit returns the default per-IP limit for the guard
// endpoints. Callers check once per login, so 60/min leaves headroom for
// busy storefront gateways without letting a single host probe freely.
func DefaultGuardRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
