package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, prepare func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if prepare != nil {
		prepare(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for i := range 2 {
		w := get(h, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := get(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 429, body.Code)
	assert.Equal(t, "rate_limited", body.Kind)
	assert.Equal(t, "rate limit exceeded", body.Message)
}

func TestRateLimit_CallerIdentity(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	withKey := func(key string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-API-Key", key) }
	}

	assert.Equal(t, http.StatusOK, get(h, withKey("key-a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, withKey("key-a")).Code)
	// Another key from the same address has its own budget.
	assert.Equal(t, http.StatusOK, get(h, withKey("key-b")).Code)
	// So does the anonymous caller at that address.
	assert.Equal(t, http.StatusOK, get(h, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, nil).Code)
}

func TestCallerKey(t *testing.T) {
	key := CallerKey("X-API-Key")
	tests := []struct {
		name    string
		prepare func(*http.Request)
		want    string
	}{
		{"remote addr", nil, "ip:192.168.1.1"},
		{"forwarded", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18") }, "ip:203.0.113.50"},
		{"real ip", func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.7") }, "ip:198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			if tt.prepare != nil {
				tt.prepare(req)
			}
			assert.Equal(t, tt.want, key(req))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "secret")
	got := key(req)
	assert.Regexp(t, `^key:[0-9a-f]{16}$`, got)
	assert.NotContains(t, got, "secret")
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(4, time.Minute)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		_, _, ok := l.Allow("c", start)
		require.True(t, ok)
	}
	_, _, ok := l.Allow("c", start.Add(30*time.Second))
	assert.False(t, ok)

	// Halfway into the next window half of the previous count still applies.
	remaining, reset, ok := l.Allow("c", start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, start.Add(2*time.Minute), reset)

	// Two windows later the history is gone.
	remaining, _, ok = l.Allow("c", start.Add(5*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Allow("idle", start)
	l.Allow("busy", start.Add(2*time.Minute))

	assert.Equal(t, 1, l.Evict(start.Add(2*time.Minute+time.Second)))
	assert.Equal(t, 1, l.Len())
}
