// Package ratelimit throttles requests per client IP with token buckets.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxEntries bounds the number of tracked clients.
const maxEntries = 10000

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu             sync.Mutex
	limiters       map[string]*limiterEntry
	rate           rate.Limit
	burst          int
	idle           time.Duration
	trustedProxies []*net.IPNet
	now            func() time.Time
	done           chan struct{}
	once           sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter allowing r requests per second with bursts of b.
// Clients idle for twice the cleanup interval are forgotten. Forwarding
// headers are only honoured when the peer matches trustedProxies (CIDRs or
// single IPs); with no trusted proxies they are ignored.
func New(r rate.Limit, b int, cleanup time.Duration, trustedProxies []string) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters:       make(map[string]*limiterEntry),
		rate:           r,
		burst:          b,
		idle:           2 * cleanup,
		trustedProxies: parseProxies(trustedProxies),
		now:            time.Now,
		done:           make(chan struct{}),
	}
	go l.cleanupStale(cleanup)
	return l
}

// Close stops the cleanup goroutine.
func (l *IPRateLimiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiter(ip).Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(l.ClientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the address used as the rate limit key.
func (l *IPRateLimiter) ClientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)
	if remoteIP == nil {
		return r.RemoteAddr
	}
	if !l.trusted(remoteIP) {
		return remoteIP.String()
	}

	// Leftmost X-Forwarded-For entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return remoteIP.String()
}

func (l *IPRateLimiter) trusted(ip net.IP) bool {
	for _, ipnet := range l.trustedProxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldest time.Time
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastAccess.Before(oldest) {
			oldestIP, oldest = ip, entry.lastAccess
		}
	}
	delete(l.limiters, oldestIP)
}

func (l *IPRateLimiter) cleanupStale(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.purge()
		}
	}
}

func (l *IPRateLimiter) purge() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func parseProxies(proxies []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				continue
			}
			if ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		if _, ipnet, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
