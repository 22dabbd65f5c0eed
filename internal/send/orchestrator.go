package send

import (
	"context"
	"fmt"
	"time"

	"courier/internal/types"
)

// Decision is what an invocation reports back to its host adapter.
// Expressing the redelivery signal as an explicit value (instead of a
// propagated panic or error) keeps the core portable across queue
// platforms; the adapter maps it to the broker's acknowledgment mechanism.
type Decision string

const (
	// DecisionAck: the message was consumed; no redelivery.
	DecisionAck Decision = "ack"

	// DecisionRetryOrDeadLetter: an unhandled fault occurred; the host must
	// NOT acknowledge the message so the queue infrastructure performs the
	// redelivery or dead-letter action it owns.
	DecisionRetryOrDeadLetter Decision = "retry_or_dead_letter"
)

// Resolution is the outcome of parameter resolution for one job.
type Resolution struct {
	// ForceStop means the resolver already handled the job end to end
	// (recorded a terminal result or requeued it); the Orchestrator must
	// terminate immediately with no further action.
	ForceStop bool

	// ThrottleCount is the number of rate-limited responses absorbed during
	// resolution, accumulated into the invocation's running total.
	ThrottleCount int

	RecipientID string
	Params      types.SendParams
}

// ParamsResolver produces send parameters for a job, creating the
// destination with the target system when necessary. A resolver that hits
// rate limits while doing so is responsible for its own recording/requeue
// and signals ForceStop.
type ParamsResolver interface {
	Resolve(ctx context.Context, job types.SendJob, meta types.DeliveryMetadata) (Resolution, error)
}

// Sender performs up to maxAttempts delivery attempts and classifies the
// result. Transport-level errors (network failure, open circuit breaker)
// are returned as errors and take the fault path; classified outcomes never
// do.
type Sender interface {
	Send(ctx context.Context, params types.SendParams, maxAttempts int) (SendResult, error)
}

// DelayRequeuer re-enqueues jobs with a delay. Requeue leaves the global
// throttle deadline untouched (the Defer path re-enqueues unchanged);
// RaiseDeadlineAndRequeue additionally sets the system-wide
// retry-not-before to now+delay (the Throttled path).
type DelayRequeuer interface {
	Requeue(ctx context.Context, job types.SendJob, delay time.Duration) error
	RaiseDeadlineAndRequeue(ctx context.Context, job types.SendJob, delay time.Duration) error
}

// ResultRecorder durably records a terminal or transient outcome for a
// (notification, recipient) pair. It must tolerate duplicate writes for the
// same pair across redeliveries; the core never deduplicates across
// invocations.
type ResultRecorder interface {
	Record(ctx context.Context, rec types.ResultRecord) error
}

// SendMetrics abstracts operational telemetry for the send pipeline.
type SendMetrics interface {
	RecordOutcome(ctx context.Context, kind OutcomeKind)
	RecordDeferred(ctx context.Context)
	RecordFault(ctx context.Context, deadLetter bool)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// Orchestrator is the sole coordinator of a send invocation. It calls its
// collaborators synchronously in sequence and guarantees that exactly one
// of {no side effect}, {requeue only}, {record only}, {record + propagate
// fault} happens per invocation.
type Orchestrator struct {
	gate     *AdmissionGate
	resolver ParamsResolver
	sender   Sender
	requeuer DelayRequeuer
	recorder ResultRecorder
	metrics  SendMetrics

	maxSendAttempts int
	retryDelay      time.Duration

	logger types.Logger
}

// NewOrchestrator wires an Orchestrator. maxSendAttempts bounds the
// per-invocation transport attempts; retryDelay is used both for the global
// throttle deadline and for per-job requeue delays.
func NewOrchestrator(
	gate *AdmissionGate,
	resolver ParamsResolver,
	sender Sender,
	requeuer DelayRequeuer,
	recorder ResultRecorder,
	metrics SendMetrics,
	maxSendAttempts int,
	retryDelay time.Duration,
	logger types.Logger,
) *Orchestrator {
	return &Orchestrator{
		gate:            gate,
		resolver:        resolver,
		sender:          sender,
		requeuer:        requeuer,
		recorder:        recorder,
		metrics:         metrics,
		maxSendAttempts: maxSendAttempts,
		retryDelay:      retryDelay,
		logger:          logger,
	}
}

// Process drives one decoded job to a terminal decision.
//
// State machine: AdmissionCheck -> ResolveParams -> Attempt -> Classify ->
// {Record | RequeueWithBackoff | RecordAndStop}, with any error from steps
// 1-3 diverted to the fault path, which writes a best-effort diagnostic
// record and returns DecisionRetryOrDeadLetter so the queue redelivers or
// dead-letters the message.
func (o *Orchestrator) Process(ctx context.Context, job types.SendJob, meta types.DeliveryMetadata) Decision {
	logger := o.logger.With(
		"notification_id", job.NotificationID,
		"recipient_id", job.RecipientID,
		"message_id", meta.MessageID,
		"delivery_attempt", meta.DeliveryAttempt,
		"trace_id", job.TraceID,
	)

	throttleTotal := 0

	// Step 1: global throttle admission. Runs first so a back-pressured
	// system makes no resolution or send calls at all.
	admission, err := o.gate.CheckAdmission(ctx)
	if err != nil {
		return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("admission check: %w", err), logger)
	}
	if admission == AdmissionDefer {
		if err := o.requeuer.Requeue(ctx, job, o.retryDelay); err != nil {
			return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("requeue deferred job: %w", err), logger)
		}
		o.metrics.RecordDeferred(ctx)
		logger.Info("send deferred by global throttle deadline",
			"delay_seconds", int(o.retryDelay.Seconds()),
		)
		return DecisionAck
	}

	// Step 2: parameter resolution.
	res, err := o.resolver.Resolve(ctx, job, meta)
	if err != nil {
		return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("resolve params: %w", err), logger)
	}
	if res.ForceStop {
		logger.Info("parameter resolution completed the job, stopping")
		return DecisionAck
	}
	throttleTotal += res.ThrottleCount

	// Step 3: send attempt.
	result, err := o.sender.Send(ctx, res.Params, o.maxSendAttempts)
	throttleTotal += result.ThrottleCount
	if err != nil {
		return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("send: %w", err), logger)
	}

	// Step 4: classify and apply exactly one terminal side-effect policy.
	switch result.Outcome.Kind {
	case OutcomeSucceeded:
		rec := types.ResultRecord{
			NotificationID:     job.NotificationID,
			RecipientID:        res.RecipientID,
			TotalThrottleCount: throttleTotal,
			StatusCode:         result.Outcome.StatusCode,
		}
		if err := o.recorder.Record(ctx, rec); err != nil {
			return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("record success: %w", err), logger)
		}
		o.metrics.RecordOutcome(ctx, OutcomeSucceeded)
		logger.Info("notification sent",
			"status_code", result.Outcome.StatusCode,
			"throttle_count", throttleTotal,
		)
		return DecisionAck

	case OutcomeThrottled:
		// No result record: the redelivered job owns the final outcome.
		if err := o.requeuer.RaiseDeadlineAndRequeue(ctx, job, o.retryDelay); err != nil {
			return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("throttled requeue: %w", err), logger)
		}
		o.metrics.RecordOutcome(ctx, OutcomeThrottled)
		logger.Warn("send throttled after exhausting attempts, backing off globally",
			"status_code", result.Outcome.StatusCode,
			"delay_seconds", int(o.retryDelay.Seconds()),
			"throttle_count", throttleTotal,
		)
		return DecisionAck

	case OutcomeFailed:
		// Terminal: recorded, never requeued by this worker.
		rec := types.ResultRecord{
			NotificationID:     job.NotificationID,
			RecipientID:        res.RecipientID,
			TotalThrottleCount: throttleTotal,
			StatusCode:         result.Outcome.StatusCode,
			ErrorMessage:       result.Outcome.ErrorMessage,
		}
		if err := o.recorder.Record(ctx, rec); err != nil {
			return o.fault(ctx, job, meta, throttleTotal, fmt.Errorf("record failure: %w", err), logger)
		}
		o.metrics.RecordOutcome(ctx, OutcomeFailed)
		logger.Error("send failed permanently",
			"status_code", result.Outcome.StatusCode,
			"error", result.Outcome.ErrorMessage,
		)
		return DecisionAck

	default:
		return o.fault(ctx, job, meta, throttleTotal,
			fmt.Errorf("unknown send outcome %q", result.Outcome.Kind), logger)
	}
}

// fault implements the orthogonal fault path: map the delivery attempt
// count to a severity tier, write a best-effort diagnostic record keyed by
// the ORIGINAL job payload (resolution may not have completed), and always
// report DecisionRetryOrDeadLetter so the redelivery/dead-letter action
// stays owned by the queue infrastructure.
func (o *Orchestrator) fault(ctx context.Context, job types.SendJob, meta types.DeliveryMetadata, throttleTotal int, cause error, logger types.Logger) Decision {
	lastDelivery := meta.DeliveryAttempt >= MaxDeliveryAttempts

	statusCode := StatusCodeFaultedRetrying
	if lastDelivery {
		statusCode = StatusCodeFaultedTerminal
	}

	rec := types.ResultRecord{
		NotificationID:     job.NotificationID,
		RecipientID:        job.RecipientID,
		TotalThrottleCount: throttleTotal,
		StatusCode:         statusCode,
		ErrorMessage:       cause.Error(),
	}
	if err := o.recorder.Record(ctx, rec); err != nil {
		// Best effort only: the fault still propagates.
		logger.Error("failed to record fault result", "error", err.Error())
	}

	o.metrics.RecordFault(ctx, lastDelivery)

	if lastDelivery {
		logger.Error("unrecoverable fault on final delivery, message will dead-letter",
			"error", cause.Error(),
		)
	} else {
		logger.Warn("invocation faulted, message will be redelivered",
			"error", cause.Error(),
		)
	}

	return DecisionRetryOrDeadLetter
}
