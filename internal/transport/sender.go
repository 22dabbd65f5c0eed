package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"courier/internal/send"
	"courier/internal/types"
)

// defaultRetryAfterFallback is the pause between rate-limited attempts when
// the provider sends no Retry-After hint.
const defaultRetryAfterFallback = 2 * time.Second

// maxErrorBodyBytes bounds how much of a provider error body ends up in a
// result record.
const maxErrorBodyBytes = 512

// activity is the JSON payload posted to the provider's conversation
// endpoint for one message.
type activity struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
	Text    string `json:"text"`
}

// MessageSender delivers a message to a resolved conversation endpoint,
// retrying rate-limited responses up to the caller's attempt budget. It
// implements send.Sender.
//
// Classification: a 2xx response is Succeeded; exhausting every attempt on
// 429 is Throttled; any other status is Failed immediately. Transport
// errors (network failure, open breaker) return an error instead of an
// outcome and take the orchestrator's fault path.
type MessageSender struct {
	client *Client
	opts   attemptOptions
	logger types.Logger
}

var _ send.Sender = (*MessageSender)(nil)

// attemptOptions carries the knobs shared by the rate-limit-aware attempt
// loops in this package.
type attemptOptions struct {
	retryAfterFallback time.Duration
	sleep              func(time.Duration)
}

func defaultAttemptOptions() attemptOptions {
	return attemptOptions{
		retryAfterFallback: defaultRetryAfterFallback,
		sleep:              time.Sleep,
	}
}

// Option is a functional option for the transport attempt loops.
type Option func(*attemptOptions)

// WithSleepFunc overrides the pause between rate-limited attempts.
// Intended for tests.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(o *attemptOptions) {
		o.sleep = fn
	}
}

// NewMessageSender creates a MessageSender over the given transport client.
func NewMessageSender(client *Client, logger types.Logger, opts ...Option) *MessageSender {
	s := &MessageSender{
		client: client,
		opts:   defaultAttemptOptions(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Send performs up to maxAttempts deliveries of the message.
func (s *MessageSender) Send(ctx context.Context, params types.SendParams, maxAttempts int) (send.SendResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	endpoint, err := activityURL(params.ServiceURL, params.ConversationID)
	if err != nil {
		return send.SendResult{}, err
	}

	body, err := json.Marshal(activity{
		Type:    "message",
		Title:   params.Content.Title,
		Summary: params.Content.Summary,
		Text:    params.Content.Body,
	})
	if err != nil {
		return send.SendResult{}, fmt.Errorf("transport: failed to marshal activity: %w", err)
	}

	throttles := 0
	lastStatus := http.StatusTooManyRequests

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, retryAfter, err := s.post(ctx, endpoint, body)
		if err != nil {
			return send.SendResult{ThrottleCount: throttles}, err
		}

		switch {
		case status >= 200 && status < 300:
			return send.SendResult{
				Outcome:       send.Succeeded(status),
				ThrottleCount: throttles,
			}, nil

		case status == http.StatusTooManyRequests:
			throttles++
			lastStatus = status
			s.logger.Warn("send attempt rate-limited",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"retry_after", retryAfter.String(),
			)
			if attempt < maxAttempts {
				s.opts.sleep(retryAfter)
			}

		default:
			return send.SendResult{
				Outcome:       send.Failed(status, respBody),
				ThrottleCount: throttles,
			}, nil
		}
	}

	return send.SendResult{
		Outcome:       send.Throttled(lastStatus),
		ThrottleCount: throttles,
	}, nil
}

// post performs a single attempt and returns the status, a bounded error
// body (empty on success), and the parsed Retry-After hint.
func (s *MessageSender) post(ctx context.Context, endpoint string, body []byte) (int, string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, fmt.Errorf("transport: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", 0, err
	}
	defer resp.Body.Close()

	retryAfter := retryAfterHint(resp, s.opts.retryAfterFallback)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", retryAfter, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return resp.StatusCode, strings.TrimSpace(string(snippet)), retryAfter, nil
}

// activityURL joins the recipient's service URL with the conversation
// activities path.
func activityURL(serviceURL, conversationID string) (string, error) {
	base, err := url.Parse(serviceURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", types.NewAppError(types.ErrCodeRecipientUnreachable,
			"invalid service URL: "+serviceURL, err)
	}
	return base.JoinPath("v3", "conversations", conversationID, "activities").String(), nil
}
