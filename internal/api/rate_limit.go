package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dunamismax/pixelstudio/internal/logging"
	"github.com/dunamismax/pixelstudio/internal/ratelimit"
)

// withRateLimit spends a token per request. Limiter errors fail open.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := ratelimit.Subject(s.caller(r), routeLabel(r))

		decision, err := s.limiter.Allow(r.Context(), subject)
		if err != nil {
			logging.FromContext(r.Context()).Warn("rate limiter check failed", zap.String("subject", subject), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r)).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// caller is the user header when present, else the client address.
func (s *Server) caller(r *http.Request) string {
	if id := r.Header.Get(s.userIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
