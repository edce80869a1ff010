package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateHost(t *testing.T) {
	for _, ok := range []string{
		"10.0.0.1",
		"fw.acme.example",
		"[2001:db8::1]",
		"edge-fw-01",
	} {
		require.NoError(t, ValidateHost(ok), ok)
	}
	for _, bad := range []string{
		"",
		"host with spaces",
		"host;rm -rf /",
		"$(whoami)",
		strings.Repeat("a", 256),
	} {
		require.Error(t, ValidateHost(bad), bad)
	}
}

func TestValidatePort(t *testing.T) {
	require.NoError(t, ValidatePort(0)) // zero means default
	require.NoError(t, ValidatePort(22))
	require.NoError(t, ValidatePort(65535))
	require.Error(t, ValidatePort(-1))
	require.Error(t, ValidatePort(65536))
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("Acme HQ edge"))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName("   "))
	require.Error(t, ValidateName(strings.Repeat("n", 256)))
}

func TestValidateUsername(t *testing.T) {
	require.NoError(t, ValidateUsername("auditor"))
	require.NoError(t, ValidateUsername("svc-audit_01"))
	require.Error(t, ValidateUsername(""))
	require.Error(t, ValidateUsername(strings.Repeat("u", 129)))
	for _, bad := range []string{"a b", "a;b", "a|b", "a&b", "a`b", "a$(b)", "a\nb"} {
		require.Error(t, ValidateUsername(bad), bad)
	}
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "clean", SanitizeString("  clean  "))
	require.Equal(t, "ab", SanitizeString("a\x00b"))
	require.Equal(t, "ab", SanitizeString("a\x1bb")) // strips escape sequences
	require.Equal(t, "a\tb", SanitizeString("a\tb"))
	require.Equal(t, "a\nb", SanitizeString("a\nb"))
}

func TestValidateLimit(t *testing.T) {
	require.Equal(t, 20, ValidateLimit(0))
	require.Equal(t, 20, ValidateLimit(-5))
	require.Equal(t, 50, ValidateLimit(50))
	require.Equal(t, 100, ValidateLimit(500))
}

func TestTokenBucketExhaustion(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		require.True(t, tb.Allow(), "request %d should pass", i)
	}
	require.False(t, tb.Allow())
}

func TestRateLimiterKeysPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))
	// a different caller gets its own bucket
	require.True(t, rl.Allow("10.0.0.2"))
}

func TestClientIP(t *testing.T) {
	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1:54321"))
	require.Equal(t, "2001:db8::1", clientIP("[2001:db8::1]:443"))
	// no port: used as-is
	require.Equal(t, "10.0.0.1", clientIP("10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimitMiddleware(1, 1)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil)
	req.RemoteAddr = "10.0.0.9:1111"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// bucket of one is now empty
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	// probes bypass the bucket entirely
	for _, path := range []string{"/healthz", "/health/live"} {
		preq := httptest.NewRequest(http.MethodGet, path, nil)
		preq.RemoteAddr = "10.0.0.9:1111"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, preq)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
