package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-caller limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window.
	Max    int
	Window time.Duration
	// KeyFunc identifies the caller. Nil uses CallerKey("X-API-Key").
	KeyFunc func(*http.Request) string
}

// CallerKey identifies a caller by a fingerprint of the API key in header,
// falling back to the client IP. The raw key never becomes a map key.
func CallerKey(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if key := r.Header.Get(header); key != "" {
			sum := sha256.Sum256([]byte(key))
			return "key:" + hex.EncodeToString(sum[:8])
		}
		return "ip:" + clientIP(r)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window counts requests of one caller in the current and previous windows.
type window struct {
	start time.Time
	curr  int
	prev  int
}

// Limiter is a sliding-window counter per caller. The previous window is
// weighted by how much of it still overlaps the sliding window.
type Limiter struct {
	max  int
	size time.Duration

	mu      sync.Mutex
	callers map[string]*window
}

// NewLimiter allows max requests per size per caller.
func NewLimiter(max int, size time.Duration) *Limiter {
	return &Limiter{max: max, size: size, callers: make(map[string]*window)}
}

// Allow counts a request of key at now. It returns the remaining budget and
// when the current window ends.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.callers[key]
	if !found {
		w = &window{start: now.Truncate(l.size)}
		l.callers[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.size {
		if elapsed >= 2*l.size {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.size)
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	used := int(math.Floor(float64(w.prev)*max(overlap, 0))) + w.curr
	reset = w.start.Add(l.size)
	if used >= l.max {
		return 0, reset, false
	}
	w.curr++
	return l.max - used - 1, reset, true
}

// Evict drops callers idle for two windows.
func (l *Limiter) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, w := range l.callers {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.callers, key)
			n++
		}
	}
	return n
}

// Len is the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// RunEviction evicts idle callers every two windows until ctx is done.
func (l *Limiter) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// RateLimit rejects callers over budget with 429. Every response carries the
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimit(NewLimiter(cfg.Max, cfg.Window), cfg.KeyFunc)
}

// RateLimitWithEviction is RateLimit with background eviction bound to ctx.
func RateLimitWithEviction(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.RunEviction(ctx)
	return rateLimit(l, cfg.KeyFunc)
}

func rateLimit(l *Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = CallerKey("X-API-Key")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			remaining, reset, ok := l.Allow(keyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(reset.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
