package middleware

import (
	"net/http"
	"strconv"

	"github.com/corpusware/termstat/internal/auth/ratelimit"
)

// RateLimit returns middleware enforcing each key's configured rate limit.
// It reads the KeyInfo placed in context by Auth; requests without one pass
// through so Auth stays the single place that rejects unauthenticated
// traffic. Denied requests get a 429 with a Retry-After hint.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			info := GetKeyInfo(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			ok, retryAfter := limiter.Allow(info.ID, info.RateLimit)
			if !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
