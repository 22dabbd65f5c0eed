// Package send implements the send-orchestration core: global throttle
// admission control, outcome classification of delivery attempts,
// retry-with-delay re-enqueueing, and redelivery/dead-letter accounting.
//
// The Orchestrator consumes one queue message per invocation and drives it
// through admission check -> parameter resolution -> send -> outcome
// handling. Collaborators (resolver, sender, requeuer, recorder, throttle
// store) are injected as narrow interfaces defined in this package.
package send

// OutcomeKind classifies a completed send attempt.
type OutcomeKind string

const (
	// OutcomeSucceeded: the provider accepted the message.
	OutcomeSucceeded OutcomeKind = "succeeded"

	// OutcomeThrottled: every attempt was rate-limited; the job must be
	// re-enqueued and the global throttle deadline raised.
	OutcomeThrottled OutcomeKind = "throttled"

	// OutcomeFailed: a terminal, non-rate-limit failure; recorded and never
	// retried by this worker.
	OutcomeFailed OutcomeKind = "failed"
)

// SendOutcome is the classified result of a delivery attempt. Exactly one
// is produced per invocation that reaches the Attempt state; it drives the
// Orchestrator's terminal branch and is never persisted directly.
type SendOutcome struct {
	Kind         OutcomeKind
	StatusCode   int
	ErrorMessage string
}

// Succeeded builds a success outcome carrying the provider status code.
func Succeeded(statusCode int) SendOutcome {
	return SendOutcome{Kind: OutcomeSucceeded, StatusCode: statusCode}
}

// Throttled builds a throttled outcome. The status code is the provider's
// last rate-limit response code.
func Throttled(statusCode int) SendOutcome {
	return SendOutcome{Kind: OutcomeThrottled, StatusCode: statusCode}
}

// Failed builds a terminal failure outcome.
func Failed(statusCode int, errorMessage string) SendOutcome {
	return SendOutcome{Kind: OutcomeFailed, StatusCode: statusCode, ErrorMessage: errorMessage}
}

// SendResult pairs the classified outcome with the number of rate-limited
// responses absorbed while producing it. The Orchestrator accumulates
// throttle counts across the resolution and send phases.
type SendResult struct {
	Outcome       SendOutcome
	ThrottleCount int
}

// MaxDeliveryAttempts is the redelivery ceiling used for fault severity.
// A fault on the 10th delivery of a message is terminal: the record gets an
// internal-error status and the message is left to the queue's dead-letter
// redrive. The value must stay <= the queue's configured maxReceiveCount.
const MaxDeliveryAttempts = 10

// Result status codes for the fault path. Terminal outcomes carry the
// provider's HTTP status code instead.
const (
	// StatusCodeFaultedRetrying marks a transient fault result; the queue
	// will redeliver the message and a later invocation overwrites the row.
	StatusCodeFaultedRetrying = 0

	// StatusCodeFaultedTerminal marks a fault on the last allowed delivery;
	// the message dead-letters after this record is written.
	StatusCodeFaultedTerminal = 500

	// StatusCodeRecipientUnreachable marks a recipient with no resolvable
	// destination, recorded during parameter resolution.
	StatusCodeRecipientUnreachable = 404
)
