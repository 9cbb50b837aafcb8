package httpserver

import (
	"net/http"
	"testing"

	"github.com/pscheid92/quickpoll/internal/platform/config"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_MutationsLimitedPerIP(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 0.001, RateLimitBurst: 2}
	srv := newTestServer(t, &mockAppService{}, withConfig(cfg))

	for range 2 {
		rec := doRequest(srv, http.MethodPost, "/polls/1/like", "", "X-Real-Ip", "198.51.100.1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(srv, http.MethodPost, "/polls/1/like", "", "X-Real-Ip", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"rate_limited"`)

	rec = doRequest(srv, http.MethodPost, "/polls/1/like", "", "X-Real-Ip", "198.51.100.2")
	assert.Equal(t, http.StatusOK, rec.Code, "other clients keep their own budget")
}

func TestRateLimiter_ReadsNotLimited(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 0.001, RateLimitBurst: 1}
	srv := newTestServer(t, &mockAppService{}, withConfig(cfg))

	for range 5 {
		rec := doRequest(srv, http.MethodGet, "/polls", "", "X-Real-Ip", "198.51.100.1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
