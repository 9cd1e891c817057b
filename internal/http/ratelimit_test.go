package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter_DisabledWithoutLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	assert.Nil(t, rl)
	rl.Stop()
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 60, Burst: 2})
	require.NotNil(t, rl)
	defer rl.Stop()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, retry := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, retry, float64(10*time.Millisecond))

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "clients have separate buckets")

	now = now.Add(time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "bucket refills")
}

func TestRateLimiter_CleanupForgetsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 60, IdleTTL: time.Minute})
	require.NotNil(t, rl)
	defer rl.Stop()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("10.0.0.1")

	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.2")
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestRouter_RateLimitsImportCreation(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{PerMinute: 1, Burst: 1})
	require.NotNil(t, rl)
	defer rl.Stop()

	svc := &fakeImports{}
	router := NewRouter(RouterConfig{Imports: svc, ImportRateLimit: rl})

	w := serve(router, "POST", "/api/imports", `{"organizationId":"acme"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(router, "POST", "/api/imports", `{"organizationId":"acme"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	assert.Len(t, svc.scheduled, 1)

	w = serve(router, "GET", "/api/imports", "")
	assert.Equal(t, http.StatusOK, w.Code, "reads are not limited")
}
