package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"courier/internal/types"
)

// maxSQSDelaySeconds is the SQS DelaySeconds ceiling (15 minutes).
const maxSQSDelaySeconds = 900

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadlineStore is the narrow slice of the throttle state store the
// requeuer needs: raising the system-wide retry-not-before deadline.
type DeadlineStore interface {
	Set(ctx context.Context, retryNotBefore time.Time) error
}

// DelayRequeuer re-enqueues jobs on the send queue with a delay. It
// implements send.DelayRequeuer. Jobs are republished as new messages and
// the original is acknowledged, so the broker's receive count keeps
// tracking genuine faults only, not deliberate backoff.
type DelayRequeuer struct {
	client    SQSSender
	queueURL  string
	deadlines DeadlineStore
	now       func() time.Time
	logger    types.Logger
}

// NewDelayRequeuer creates a DelayRequeuer publishing to the given queue
// and raising deadlines in the given store.
func NewDelayRequeuer(client SQSSender, queueURL string, deadlines DeadlineStore, logger types.Logger) *DelayRequeuer {
	return &DelayRequeuer{
		client:    client,
		queueURL:  queueURL,
		deadlines: deadlines,
		now:       time.Now,
		logger:    logger,
	}
}

// Requeue serializes the job unchanged and publishes it with the given
// delay (clamped to the SQS maximum). The global throttle deadline is not
// touched; this is the path for jobs deferred by an existing deadline.
func (r *DelayRequeuer) Requeue(ctx context.Context, job types.SendJob, delay time.Duration) error {
	body, err := EncodeJob(job)
	if err != nil {
		return err
	}

	delaySec := int32(delay.Seconds())
	if delaySec > maxSQSDelaySeconds {
		delaySec = maxSQSDelaySeconds
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(r.queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: delaySec,
	}

	if _, err := r.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to requeue job to %s: %w", r.queueURL, err)
	}

	r.logger.Info("job requeued with delay",
		"notification_id", job.NotificationID,
		"recipient_id", job.RecipientID,
		"delay_seconds", delaySec,
		"trace_id", job.TraceID,
	)
	return nil
}

// RaiseDeadlineAndRequeue performs the throttled-backoff pair: write
// retryNotBefore = now + delay to the shared throttle state and requeue the
// job with the same delay. The two run as a best-effort pair; failure of
// either surfaces as an error so the caller's fault path keeps the job
// alive (losing the requeue would silently drop it).
func (r *DelayRequeuer) RaiseDeadlineAndRequeue(ctx context.Context, job types.SendJob, delay time.Duration) error {
	retryNotBefore := r.now().Add(delay)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.deadlines.Set(gctx, retryNotBefore); err != nil {
			return fmt.Errorf("queue: failed to raise throttle deadline: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return r.Requeue(gctx, job, delay)
	})
	return g.Wait()
}
