package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	IPPerMinute       int
	IPBurst           int
	TerminalPerMinute int
	TerminalBurst     int
}

// RateLimiter applies a token bucket per client IP and a second one per
// registration terminal, so one runaway desk cannot starve the others sharing
// a NAT address.
type RateLimiter struct {
	ipLimiter       *tokenLimiter
	terminalLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:       newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		terminalLimiter: newTokenLimiter(cfg.TerminalPerMinute, cfg.TerminalBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFromRequest(r)
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			writeRateLimited(w, requestID)
			return
		}

		terminalID := terminalFromContext(r.Context()).TerminalID
		if terminalID != "" && !l.terminalLimiter.allow(terminalID) {
			writeRateLimited(w, requestID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, requestID string) {
	w.Header().Set("Retry-After", "1")
	writeError(w, requestID, http.StatusTooManyRequests, responseError{Code: "rate_limited", Message: "too many requests"})
}

type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	bucket    map[string]*bucket
	now       func() time.Time
	idle      time.Duration
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	if burst <= 0 {
		burst = 30
	}
	rate := float64(perMinute) / 60.0
	// A bucket idle this long has refilled completely and is the same as no bucket.
	idle := time.Duration(float64(burst) / rate * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &tokenLimiter{
		rate:   rate,
		burst:  float64(burst),
		bucket: make(map[string]*bucket),
		now:    time.Now,
		idle:   idle,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep requires l.mu held.
func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, b := range l.bucket {
		if now.Sub(b.last) >= l.idle {
			delete(l.bucket, key)
		}
	}
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bucket)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
