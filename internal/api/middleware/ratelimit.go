package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/studyhall/studyhall/internal/api/response"
	"github.com/studyhall/studyhall/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateLimitWindow          = time.Minute
)

// RateLimit caps requests per user per minute via a Redis counter. The
// budget follows the user, not the API key, so holding several keys does
// not multiply it.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit enforces the per-user budget. Requests without an authenticated
// user pass through, as do requests when Redis is unavailable.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(userID), rateLimitWindow)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateLimitWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
