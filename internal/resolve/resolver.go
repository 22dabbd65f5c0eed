// Package resolve turns a SendJob into concrete send parameters: the
// notification content plus a reachable conversation endpoint for the
// recipient, creating the conversation with the provider when no cached
// one exists.
package resolve

import (
	"context"
	"fmt"
	"time"

	"courier/internal/send"
	"courier/internal/types"
)

// ContentStore reads the rendered content of a notification.
type ContentStore interface {
	GetContent(ctx context.Context, notificationID string) (types.MessageContent, error)
}

// ConversationStore caches resolved conversations per recipient.
// GetConversation returns nil when none is stored.
type ConversationStore interface {
	GetConversation(ctx context.Context, recipientID string) (*types.Conversation, error)
	SaveConversation(ctx context.Context, conv *types.Conversation) error
}

// ConversationCreator opens a conversation with a recipient through the
// provider API. Rate-limit exhaustion is reported as an AppError with code
// ErrCodeUpstreamRateLimited alongside the absorbed throttle count.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, recipient types.RecipientInfo) (*types.Conversation, int, error)
}

// ThrottleRequeuer is the slice of the requeuer the resolver needs when
// conversation creation is throttled: raise the global deadline and put the
// job back on the queue.
type ThrottleRequeuer interface {
	RaiseDeadlineAndRequeue(ctx context.Context, job types.SendJob, delay time.Duration) error
}

// Resolver implements send.ParamsResolver. Resolution order:
//
//  1. Jobs carrying pre-resolved params pass straight through.
//  2. A conversation named in the job payload is used directly.
//  3. Otherwise the cached conversation for the recipient is looked up.
//  4. With no cached conversation, one is created via the provider API and
//     written back to the cache.
//
// Two situations are handled here rather than surfaced to the
// orchestrator, per the force-stop contract: a recipient with no reachable
// destination (terminal result recorded, ForceStop) and creation throttled
// after retries (deadline raised + job requeued, ForceStop).
type Resolver struct {
	content       ContentStore
	conversations ConversationStore
	creator       ConversationCreator
	requeuer      ThrottleRequeuer
	recorder      send.ResultRecorder
	retryDelay    time.Duration
	logger        types.Logger
}

var _ send.ParamsResolver = (*Resolver)(nil)

// NewResolver wires a Resolver. retryDelay is the same fixed delay the
// orchestrator uses for throttled requeues.
func NewResolver(
	content ContentStore,
	conversations ConversationStore,
	creator ConversationCreator,
	requeuer ThrottleRequeuer,
	recorder send.ResultRecorder,
	retryDelay time.Duration,
	logger types.Logger,
) *Resolver {
	return &Resolver{
		content:       content,
		conversations: conversations,
		creator:       creator,
		requeuer:      requeuer,
		recorder:      recorder,
		retryDelay:    retryDelay,
		logger:        logger,
	}
}

// Resolve produces send parameters for the job, or ForceStop when the
// resolver has already handled it.
func (r *Resolver) Resolve(ctx context.Context, job types.SendJob, meta types.DeliveryMetadata) (send.Resolution, error) {
	if job.Params != nil {
		return send.Resolution{
			RecipientID: job.RecipientID,
			Params:      *job.Params,
		}, nil
	}

	content, err := r.content.GetContent(ctx, job.NotificationID)
	if err != nil {
		return send.Resolution{}, err
	}

	// Destination already named in the payload.
	if job.Recipient.ConversationID != "" && job.Recipient.ServiceURL != "" {
		return send.Resolution{
			RecipientID: job.RecipientID,
			Params: types.SendParams{
				ConversationID: job.Recipient.ConversationID,
				ServiceURL:     job.Recipient.ServiceURL,
				Content:        content,
			},
		}, nil
	}

	conv, err := r.conversations.GetConversation(ctx, job.RecipientID)
	if err != nil {
		return send.Resolution{}, err
	}

	throttles := 0
	if conv == nil {
		if job.Recipient.UserID == "" || job.Recipient.ServiceURL == "" {
			return r.stopUnreachable(ctx, job)
		}

		created, creationThrottles, err := r.creator.CreateConversation(ctx, job.Recipient)
		throttles += creationThrottles
		if err != nil {
			if types.IsCode(err, types.ErrCodeUpstreamRateLimited) {
				return r.stopThrottled(ctx, job)
			}
			return send.Resolution{ThrottleCount: throttles}, err
		}

		created.RecipientID = job.RecipientID
		// Write-through cache; a failed save costs one extra creation call
		// on the next send, nothing more.
		if err := r.conversations.SaveConversation(ctx, created); err != nil {
			r.logger.Warn("failed to cache created conversation",
				"recipient_id", job.RecipientID,
				"error", err.Error(),
			)
		}
		conv = created
	}

	return send.Resolution{
		ThrottleCount: throttles,
		RecipientID:   job.RecipientID,
		Params: types.SendParams{
			ConversationID: conv.ConversationID,
			ServiceURL:     conv.ServiceURL,
			Content:        content,
		},
	}, nil
}

// stopUnreachable records a terminal result for a recipient the worker has
// no way to reach and stops the invocation.
func (r *Resolver) stopUnreachable(ctx context.Context, job types.SendJob) (send.Resolution, error) {
	rec := types.ResultRecord{
		NotificationID:       job.NotificationID,
		RecipientID:          job.RecipientID,
		FromParamsResolution: true,
		StatusCode:           send.StatusCodeRecipientUnreachable,
		ErrorMessage:         "recipient has no conversation and no service endpoint",
	}
	if err := r.recorder.Record(ctx, rec); err != nil {
		return send.Resolution{}, fmt.Errorf("record unreachable recipient: %w", err)
	}
	r.logger.Warn("recipient unreachable, recorded terminal result",
		"notification_id", job.NotificationID,
		"recipient_id", job.RecipientID,
	)
	return send.Resolution{ForceStop: true}, nil
}

// stopThrottled defers the whole system after conversation creation
// exhausted its rate-limit retries, then stops the invocation. No result is
// recorded; the redelivered job owns the final outcome.
func (r *Resolver) stopThrottled(ctx context.Context, job types.SendJob) (send.Resolution, error) {
	if err := r.requeuer.RaiseDeadlineAndRequeue(ctx, job, r.retryDelay); err != nil {
		return send.Resolution{}, fmt.Errorf("throttled requeue during resolution: %w", err)
	}
	r.logger.Warn("conversation creation throttled, backing off globally",
		"notification_id", job.NotificationID,
		"recipient_id", job.RecipientID,
		"delay_seconds", int(r.retryDelay.Seconds()),
	)
	return send.Resolution{ForceStop: true}, nil
}
