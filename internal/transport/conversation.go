package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"courier/internal/types"
)

// conversationCreateAttempts bounds how many rate-limited responses the
// creator absorbs before reporting upstream_rate_limited to the resolver,
// which then defers the whole system.
const conversationCreateAttempts = 3

// createConversationRequest is the payload for the provider's conversation
// creation endpoint.
type createConversationRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// createConversationResponse is the provider's reply.
type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// ConversationCreator establishes a conversation with a recipient through
// the provider API. Creation is itself subject to the provider's rate
// limits, so it runs its own bounded 429 retry loop and reports the number
// of throttled responses it absorbed.
type ConversationCreator struct {
	client *Client
	opts   attemptOptions
	logger types.Logger
}

// NewConversationCreator creates a ConversationCreator over the given
// transport client.
func NewConversationCreator(client *Client, logger types.Logger, opts ...Option) *ConversationCreator {
	c := &ConversationCreator{
		client: client,
		opts:   defaultAttemptOptions(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// CreateConversation asks the provider to open a conversation with the
// recipient. On rate-limit exhaustion it returns an AppError with code
// ErrCodeUpstreamRateLimited and the throttle count absorbed so far; any
// other failure is an error for the fault path.
func (c *ConversationCreator) CreateConversation(ctx context.Context, recipient types.RecipientInfo) (*types.Conversation, int, error) {
	endpoint, err := conversationsURL(recipient.ServiceURL)
	if err != nil {
		return nil, 0, err
	}

	body, err := json.Marshal(createConversationRequest{
		UserID:   recipient.UserID,
		TenantID: recipient.TenantID,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("transport: failed to marshal conversation request: %w", err)
	}

	throttles := 0

	for attempt := 1; attempt <= conversationCreateAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, throttles, fmt.Errorf("transport: failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, throttles, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var created createConversationResponse
			err := json.NewDecoder(resp.Body).Decode(&created)
			resp.Body.Close()
			if err != nil || created.ConversationID == "" {
				return nil, throttles, fmt.Errorf("transport: invalid conversation creation response: %w", err)
			}
			return &types.Conversation{
				ConversationID: created.ConversationID,
				ServiceURL:     recipient.ServiceURL,
				TenantID:       recipient.TenantID,
			}, throttles, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			throttles++
			retryAfter := retryAfterHint(resp, c.opts.retryAfterFallback)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.logger.Warn("conversation creation rate-limited",
				"attempt", attempt,
				"max_attempts", conversationCreateAttempts,
				"retry_after", retryAfter.String(),
			)
			if attempt < conversationCreateAttempts {
				c.opts.sleep(retryAfter)
			}

		default:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			resp.Body.Close()
			return nil, throttles, fmt.Errorf("transport: conversation creation failed with status %d: %s",
				resp.StatusCode, string(snippet))
		}
	}

	return nil, throttles, types.NewAppError(types.ErrCodeUpstreamRateLimited,
		"conversation creation throttled after retries", nil)
}

// conversationsURL joins the recipient's service URL with the conversation
// creation path.
func conversationsURL(serviceURL string) (string, error) {
	base, err := url.Parse(serviceURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", types.NewAppError(types.ErrCodeRecipientUnreachable,
			"invalid service URL: "+serviceURL, err)
	}
	return base.JoinPath("v3", "conversations").String(), nil
}
