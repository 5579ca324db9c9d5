package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ipLimiter is a per-IP sliding-window rate limiter. Each IP keeps the
// timestamps of its requests within the window; a request is allowed
// while the window holds fewer than limit entries.
type ipLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:  limit,
		window: window,
		seen:   map[string][]time.Time{},
	}
}

// allow records a request for ip and reports whether it fits in the
// window. When it does not, retryAfter says how long until the oldest
// entry expires.
func (l *ipLimiter) allow(ip string) (ok bool, remaining int, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	times := l.seen[ip]
	for len(times) > 0 && times[0].Before(cutoff) {
		times = times[1:]
	}

	if len(times) >= l.limit {
		l.seen[ip] = times
		return false, 0, times[0].Add(l.window).Sub(now)
	}
	times = append(times, now)
	l.seen[ip] = times
	return true, l.limit - len(times), 0
}

// sweep drops IPs whose whole window has expired. Called periodically
// so the map does not grow with every client ever seen.
func (l *ipLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.window)
	for ip, times := range l.seen {
		for len(times) > 0 && times[0].Before(cutoff) {
			times = times[1:]
		}
		if len(times) == 0 {
			delete(l.seen, ip)
		} else {
			l.seen[ip] = times
		}
	}
}

// rateLimitMiddleware enforces the per-IP limit and advertises the
// standard rate-limit headers on rejections.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, remaining, retryAfter := s.limiter.allow(ip)
		if !ok {
			seconds := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.limiter.limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", seconds))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.limiter.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		next(w, r)
	}
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
