package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelmix/internal/ratelimit"
)

// RateLimiter charges cost units against a subject's budget.
type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := s.requestCost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject = subject + ":" + route

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if decision.Limit > 0 {
			h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		}
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(decision.ResetAfter)))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Retry-After", strconv.Itoa(max(ceilSeconds(decision.RetryAfter), 1)))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// requestCost is what a request charges against its budget; 0 means it is
// not metered. Only writes cost anything, and synchronous image processing
// costs imageCost because it decodes and encodes on the API process.
func (s *Server) requestCost(r *http.Request) int64 {
	if r.Method != http.MethodPost {
		return 0
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/images/"):
		return s.imageCost
	case strings.HasPrefix(r.URL.Path, "/v1/jobs"):
		return 1
	default:
		return 0
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
