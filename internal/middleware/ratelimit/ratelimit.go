package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter throttles requests per client IP using a fixed window.
type Limiter struct {
	instance  *limiter.Limiter
	extractIP func(*http.Request) string
}

// NewLimiter parses a rate such as "120-M" and keeps counters in memory.
func NewLimiter(formatted string, extractIP func(*http.Request) string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	if extractIP == nil {
		extractIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &Limiter{
		instance:  limiter.New(memory.NewStore(), rate),
		extractIP: extractIP,
	}, nil
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.extractIP(r)

		lctx, err := l.instance.Get(r.Context(), ip)
		if err != nil {
			// Counting failed; let the request through rather than lock everyone out.
			slog.ErrorContext(r.Context(), "Failed to get rate limit context", "client_ip", ip, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retry := time.Until(time.Unix(lctx.Reset, 0)).Seconds()
			if retry < 1 {
				retry = 1
			}
			slog.WarnContext(r.Context(), "Rate limit exceeded",
				"client_ip", ip,
				"limit", lctx.Limit,
				"method", r.Method,
				"path", r.URL.Path)
			h.Set("Retry-After", strconv.Itoa(int(retry)))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests, please try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
