package server

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
)

// IPRateLimiter keeps one token bucket per client address. Idle buckets
// expire after ten minutes.
type IPRateLimiter struct {
	limiters *cache.Cache
	limit    rate.Limit
	burst    int
	log      zerolog.Logger
}

// NewIPRateLimiter allows rps requests per second per client with the
// given burst
func NewIPRateLimiter(rps float64, burst int, log zerolog.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: cache.New(10*time.Minute, 20*time.Minute),
		limit:    rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	if v, ok := l.limiters.Get(ip); ok {
		lim := v.(*rate.Limiter)
		l.limiters.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.limiters.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// lost a race with another request from the same client
		if v, ok := l.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Handler rejects requests over the limit with 429
func (l *IPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.limiter(ip).Allow() {
			l.log.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", ip).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			httputil.WriteErrorCode(w, l.log, http.StatusTooManyRequests, domain.CodeRateLimited, "Too many requests.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port RealIP leaves on RemoteAddr for direct clients
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
