// Package transport is the anti-corruption layer between the send worker
// and the provider's HTTP API. All outbound calls go through a Client that
// wraps an *http.Client with a circuit breaker, User-Agent injection, and
// error mapping; the MessageSender and ConversationCreator build on it and
// own the rate-limit-aware attempt loops.
package transport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"courier/internal/types"
)

// Client wraps an *http.Client and a circuit breaker so repeated provider
// outages fail fast instead of burning the invocation deadline. The breaker
// trips on transport-level errors only; HTTP status handling (429 retries,
// failure classification) belongs to the callers.
type Client struct {
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
}

// NewClient creates a Client with a fresh circuit breaker.
func NewClient(httpClient *http.Client, breakerName, userAgent string) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{
		http:      httpClient,
		breaker:   cb,
		userAgent: userAgent,
	}
}

// Do executes the request through the circuit breaker with the User-Agent
// header injected. An open breaker is mapped to an upstream_unavailable
// AppError; callers surface it into the orchestrator's fault path so the
// queue redelivers once the provider recovers.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider circuit breaker open", err)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider request failed", err)
	}
	return resp, nil
}

// retryAfterHint parses the Retry-After response header (delta-seconds
// form). Returns fallback when the header is absent or unparseable.
func retryAfterHint(resp *http.Response, fallback time.Duration) time.Duration {
	if resp == nil {
		return fallback
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
