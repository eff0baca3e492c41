package security

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:54321",
			want:       "203.0.113.7",
		},
		{
			name:       "proxy headers ignored when untrusted",
			remoteAddr: "203.0.113.7:54321",
			xff:        "198.51.100.1",
			want:       "203.0.113.7",
		},
		{
			name:              "single proxy",
			remoteAddr:        "10.0.0.1:1234",
			xff:               "198.51.100.1, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "198.51.100.1",
		},
		{
			name:              "two proxies",
			remoteAddr:        "10.0.0.1:1234",
			xff:               "198.51.100.1, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "198.51.100.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:1234",
			xRealIP:    "198.51.100.9",
			trustProxy: true,
			want:       "198.51.100.9",
		},
		{
			name:       "garbage xff falls back to remote addr",
			remoteAddr: "10.0.0.1:1234",
			xff:        "not-an-ip",
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			assert.Equal(t, tt.want, GetClientIP(r, tt.trustProxy, tt.trustedProxyCount))
		})
	}
}

func TestIsExpired(t *testing.T) {
	assert.False(t, IsExpired(time.Time{}))
	assert.False(t, IsExpired(time.Now().Add(time.Minute)))
	// Within the clock skew grace period.
	assert.False(t, IsExpired(time.Now().Add(-2*time.Second)))
	assert.True(t, IsExpired(time.Now().Add(-10*time.Second)))
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	deadline := time.Now().Add(-30 * time.Second)
	assert.True(t, IsExpiredWithGracePeriod(deadline, 0))
	assert.False(t, IsExpiredWithGracePeriod(deadline, time.Minute))
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	t.Run("generates when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
	})

	t.Run("preserves a valid upstream id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "upstream-id-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, "upstream-id-42", captured)
	})

	t.Run("replaces an invalid upstream id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "bad id\r\nwith: injection")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.NotEqual(t, "bad id\r\nwith: injection", captured)
		assert.NotEmpty(t, captured)
	})
}

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	assert.NotEqual(t, a, b)
	assert.True(t, isValidRequestID(a))
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, 100, discardLogger())
	defer rl.Stop()

	assert.True(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))

	// Separate identifiers have separate buckets.
	assert.True(t, rl.Allow("client-b"))
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiter(1, 1, 2, discardLogger())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.limiters, 2)
	assert.NotContains(t, rl.limiters, "a")
}

func TestRateLimiterStopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, 10, discardLogger())
	rl.Stop()
	rl.Stop()
}

func TestAuditorDisabled(t *testing.T) {
	// A disabled auditor must be a no-op, including on a nil receiver.
	var a *Auditor
	a.LogFlowInitialized("session", "203.0.113.7")

	a = NewAuditor(discardLogger(), false)
	a.LogCredentialIssued("subject", "session", "203.0.113.7")
	a.LogAuthFailure("session", "203.0.113.7", "test")
}

func TestHashForLogging(t *testing.T) {
	assert.Empty(t, hashForLogging(""))
	h := hashForLogging("12345678901")
	assert.Len(t, h, 16)
	assert.NotEqual(t, "12345678901", h)
	assert.Equal(t, h, hashForLogging("12345678901"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://broker.example.com")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:8080")
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
