package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maruel/persiston/internal/config"
	apierrors "github.com/maruel/persiston/internal/errors"
	"golang.org/x/time/rate"
)

// Limiter manages token buckets per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	stop    chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a rate limiter allowing requests tokens per window with
// burst capacity.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for key may proceed and, if not, how long
// to wait.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if res.OK() && res.DelayFrom(now) == 0 {
		return true, 0
	}
	var retry time.Duration
	if res.OK() {
		retry = res.DelayFrom(now)
		res.CancelAt(now)
	}
	return false, max(retry, time.Second)
}

// cleanupLoop removes stale buckets every 10 minutes.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup removes buckets that haven't been used recently and are full.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := time.Now().Add(-10 * time.Minute)
	for key, b := range l.buckets {
		if b.lastSeen.Before(stale) && b.limiter.Tokens() >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}

// RateLimiter holds the read and write tiers.
type RateLimiter struct {
	read  *Limiter
	write *Limiter
}

// NewRateLimiter creates limiters from cfg. A zero rate disables its tier.
// Bursts allow a sixth of the per minute budget.
func NewRateLimiter(cfg config.RateLimits) *RateLimiter {
	r := &RateLimiter{}
	if cfg.ReadRatePerMin > 0 {
		r.read = NewLimiter(cfg.ReadRatePerMin, time.Minute, max(cfg.ReadRatePerMin/6, 1))
	}
	if cfg.WriteRatePerMin > 0 {
		r.write = NewLimiter(cfg.WriteRatePerMin, time.Minute, max(cfg.WriteRatePerMin/6, 1))
	}
	return r
}

// Close stops all limiter cleanup goroutines.
func (r *RateLimiter) Close() {
	if r.read != nil {
		r.read.Close()
	}
	if r.write != nil {
		r.write.Close()
	}
}

// Middleware rejects requests over budget with 429 and a Retry-After header.
// The health check is never limited.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		l := r.match(req)
		if l == nil {
			next.ServeHTTP(w, req)
			return
		}
		if ok, retry := l.Allow(clientIP(req)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			writeError(req.Context(), w, apierrors.RateLimited(retry))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) match(req *http.Request) *Limiter {
	p := req.URL.Path
	switch {
	case p == "/api/health":
		return nil
	case req.Method == http.MethodGet,
		strings.HasSuffix(p, "/find"),
		strings.HasSuffix(p, "/find-one"),
		strings.HasSuffix(p, "/count"):
		return r.read
	default:
		return r.write
	}
}

// clientIP returns the first X-Forwarded-For address, X-Real-IP, or the
// remote address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
