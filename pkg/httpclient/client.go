// Copyright 2026 MissionBay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides a retrying HTTP client shared by the model
// adapters and the HTTP embedder. Retries honor provider rate-limit headers
// when a parser is configured and fall back to exponential backoff.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	// NoRetry returns the response as-is.
	NoRetry RetryStrategy = iota
	// BackoffRetry waits a short fixed delay, at most twice.
	BackoffRetry
	// RateLimitRetry consults rate-limit headers, then exponential backoff.
	RateLimitRetry
)

// RateLimitInfo is what a provider-specific header parser extracts from a
// throttled response.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type HeaderParser func(http.Header) RateLimitInfo

type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps *http.Client with status-aware retries. The zero value is not
// usable; construct with New.
type Client struct {
	inner      *http.Client
	maxRetries int
	baseDelay  time.Duration
	parser     HeaderParser
	strategy   StrategyFunc
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(inner *http.Client) Option {
	return func(c *Client) { c.inner = inner }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

func WithHeaderParser(p HeaderParser) Option {
	return func(c *Client) { c.parser = p }
}

func WithStrategy(s StrategyFunc) Option {
	return func(c *Client) { c.strategy = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		inner:      &http.Client{Timeout: 60 * time.Second},
		maxRetries: 5,
		baseDelay:  2 * time.Second,
		strategy:   DefaultStrategy,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy retries throttling and transient server errors only.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return RateLimitRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy. The request
// context bounds the total wait: delays abort when the context is done.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategy(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		var info RateLimitInfo
		if c.parser != nil {
			info = c.parser(resp.Header)
		}

		delay := c.delayFor(strategy, attempt, info)
		if delay <= 0 || attempt == c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("retries exhausted after %d attempts", attempt+1),
				RetryAfter: delay,
				Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
			}
		}

		resp.Body.Close()
		c.logger.Warn("retrying request",
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	// Unreachable; the loop always returns.
	return nil, fmt.Errorf("max retries exceeded")
}

func (c *Client) delayFor(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case RateLimitRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		return backoff + time.Duration(float64(backoff)*0.1)

	case BackoffRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}
