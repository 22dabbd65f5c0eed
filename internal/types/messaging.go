// Package types defines the shared domain types for the courier send worker:
// queue message envelopes, send parameters, result records, and the common
// error and logging primitives used across packages.
package types

import "time"

// SendJob is one unit of work: deliver one notification to one recipient.
// It is created by the upstream producer and carried verbatim through the
// queue. A job is immutable; the queue may redeliver the same job several
// times before a terminal outcome is reached.
type SendJob struct {
	NotificationID string        `json:"notification_id"`
	RecipientID    string        `json:"recipient_id"`
	Recipient      RecipientInfo `json:"recipient"`

	// Params carries previously-resolved send parameters, when the producer
	// already knows the destination. When set, parameter resolution is a
	// pass-through.
	Params *SendParams `json:"params,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

// RecipientInfo is the recipient-specific payload data supplied by the
// producer. ConversationID/ServiceURL may already identify a reachable
// destination; otherwise UserID+ServiceURL+TenantID are the inputs for
// conversation creation.
type RecipientInfo struct {
	UserID         string         `json:"user_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	ServiceURL     string         `json:"service_url,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// SendParams is everything the transport needs for one delivery attempt.
type SendParams struct {
	ConversationID string         `json:"conversation_id"`
	ServiceURL     string         `json:"service_url"`
	Content        MessageContent `json:"content"`
}

// MessageContent is the rendered notification content posted to the
// provider endpoint.
type MessageContent struct {
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body"`
}

// DeliveryMetadata is the per-invocation, queue-supplied envelope: how many
// times this message has been handed to a worker (including the current
// delivery), when it was enqueued, and the broker's message ID. It is not
// part of the SendJob payload and arrives fresh on every delivery.
type DeliveryMetadata struct {
	DeliveryAttempt int
	EnqueuedAt      time.Time
	MessageID       string
}

// Conversation is a recipient's resolved destination, cached in the
// database so repeated sends skip the provider's conversation-creation call.
type Conversation struct {
	RecipientID    string
	ConversationID string
	ServiceURL     string
	TenantID       string
	CreatedAt      time.Time
}

// ResultRecord is the durable per-(notification, recipient) outcome written
// by the ResultRecorder. At most one write happens per terminal branch of a
// single invocation, but redeliveries of the same job may write again for
// the same pair; the recorder overwrites (last write wins).
type ResultRecord struct {
	NotificationID       string
	RecipientID          string
	TotalThrottleCount   int
	FromParamsResolution bool
	StatusCode           int
	ErrorMessage         string
}
