package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionbay/agentflow/pkg/logger"
)

func TestDoSuccessNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(WithLogger(logger.Discard()))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(
		WithLogger(logger.Discard()),
		WithStrategy(func(code int) RetryStrategy {
			if code == http.StatusBadGateway {
				return RateLimitRetry
			}
			return NoRetry
		}),
		WithBaseDelay(time.Millisecond),
	)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(WithLogger(logger.Discard()))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(
		WithLogger(logger.Discard()),
		WithMaxRetries(1),
		WithBaseDelay(time.Millisecond),
	)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.Error(t, err)
	defer resp.Body.Close()

	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, http.StatusTooManyRequests, retryErr.StatusCode)
}

func TestDefaultStrategy(t *testing.T) {
	tests := []struct {
		code int
		want RetryStrategy
	}{
		{http.StatusTooManyRequests, RateLimitRetry},
		{http.StatusServiceUnavailable, RateLimitRetry},
		{http.StatusBadGateway, BackoffRetry},
		{http.StatusInternalServerError, BackoffRetry},
		{http.StatusNotFound, NoRetry},
		{http.StatusUnauthorized, NoRetry},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultStrategy(tt.code), "status %d", tt.code)
	}
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	h.Set("x-ratelimit-remaining-requests", "12")
	h.Set("x-ratelimit-remaining-tokens", "9000")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, 12, info.RequestsRemaining)
	assert.Equal(t, 9000, info.TokensRemaining)
}

func TestParseAnthropicHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	h := http.Header{}
	h.Set("retry-after", "3")
	h.Set("anthropic-ratelimit-requests-reset", reset)
	h.Set("anthropic-ratelimit-requests-remaining", "4")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 3*time.Second, info.RetryAfter)
	assert.NotZero(t, info.ResetTime)
	assert.Equal(t, 4, info.RequestsRemaining)
}
