package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/authgate"
	"golang.org/x/time/rate"
)

// IPRateLimiterConfig sets the per-address token bucket.
type IPRateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	// IdleTTL drops buckets not touched for this long.
	IdleTTL time.Duration
}

// DefaultIPRateLimiterConfig allows 5 requests per second with bursts of 20.
func DefaultIPRateLimiterConfig() IPRateLimiterConfig {
	return IPRateLimiterConfig{
		Rate:    rate.Limit(5),
		Burst:   20,
		IdleTTL: 10 * time.Minute,
	}
}

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter is an in-process token bucket keyed by client address. It
// sits in front of the engine's Redis windows and absorbs floods cheaply.
type IPRateLimiter struct {
	cfg      IPRateLimiterConfig
	now      func() time.Time
	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

func NewIPRateLimiter(cfg IPRateLimiterConfig) *IPRateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIPRateLimiterConfig().IdleTTL
	}
	return &IPRateLimiter{
		cfg:      cfg,
		now:      time.Now,
		limiters: map[string]*ipLimiter{},
	}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.limiters[ip]; ok {
		entry.lastAccess = now
		return entry.limiter
	}
	entry := &ipLimiter{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst), lastAccess: now}
	l.limiters[ip] = entry
	return entry.limiter
}

// Sweep removes idle buckets. Call it periodically.
func (l *IPRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.IdleTTL)
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over budget with 429. It must run after
// ClientIP.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := authgate.ClientIPFromContext(r.Context())
		if ip == "" {
			ip = RemoteIP(r, false)
		}

		if !l.limiter(ip).Allow() {
			writeRateLimited(w, l.cfg.Rate)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1 / float64(limit)))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "too many requests",
		"kind":  string(authgate.KindRateLimited),
	})
}
