// Package main is the entrypoint for the Send Worker Lambda function.
//
// The Send Worker consumes SendJobs from the send SQS queue and drives each
// one through the orchestration core: global throttle admission, parameter
// resolution, the rate-limit-aware send attempt, and outcome recording.
//
// Cold start (main):
//  1. Initialize the structured logger.
//  2. Load configuration (env + .env + validation).
//  3. Load AWS SDK configuration, initialize SQS and CloudWatch clients.
//  4. Connect the pgx pool; build the throttle, result, conversation, and
//     notification repositories.
//  5. Build the SSRF-safe transport client (circuit breaker), sender, and
//     conversation creator.
//  6. Wire the requeuer, resolver, and orchestrator; register the handler.
//
// Per message: decode the job, build delivery metadata from the queue
// attributes, and run the orchestrator. A DecisionRetryOrDeadLetter comes
// back as a partial batch failure so SQS redelivers (or dead-letters) just
// that message; everything else is acknowledged.
package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"courier/internal/config"
	"courier/internal/db"
	"courier/internal/queue"
	"courier/internal/resolve"
	"courier/internal/security"
	"courier/internal/send"
	"courier/internal/transport"
	"courier/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// Processor is the slice of the orchestrator the handler depends on.
type Processor interface {
	Process(ctx context.Context, job types.SendJob, meta types.DeliveryMetadata) send.Decision
}

// Handler holds the dependencies for the send worker Lambda handler.
type Handler struct {
	orchestrator Processor
	metrics      send.SendMetrics
	logger       types.Logger
}

// Handle processes an SQS event. Each record is processed independently;
// records whose invocation faults are reported in BatchItemFailures so SQS
// redelivers only those, while consumed records are deleted.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		job, err := queue.DecodeJob(record.Body)
		if err != nil {
			// Permanent parse failure: acknowledging is the only option,
			// redelivery would loop the same poison body forever.
			h.logger.Error("failed to decode send job, dropping message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			continue
		}

		meta := deliveryMetadataFromRecord(record)
		if !meta.EnqueuedAt.IsZero() {
			h.metrics.RecordQueueLag(ctx, time.Since(meta.EnqueuedAt))
		}

		if decision := h.orchestrator.Process(ctx, job, meta); decision == send.DecisionRetryOrDeadLetter {
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// deliveryMetadataFromRecord extracts the queue-supplied facts for one
// delivery: the receive count (1 on first delivery), the enqueue time, and
// the broker message ID.
func deliveryMetadataFromRecord(record events.SQSMessage) types.DeliveryMetadata {
	meta := types.DeliveryMetadata{
		DeliveryAttempt: 1,
		MessageID:       record.MessageId,
	}

	if raw, ok := record.Attributes["ApproximateReceiveCount"]; ok {
		if count, err := strconv.Atoi(raw); err == nil && count > 0 {
			meta.DeliveryAttempt = count
		}
	}
	if raw, ok := record.Attributes["SentTimestamp"]; ok {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			meta.EnqueuedAt = time.UnixMilli(millis)
		}
	}

	return meta
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	typedLogger := &slogAdapter{logger: logger}

	logger.Info("send worker initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolSettings{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg)

	throttleRepo := db.NewThrottleStateRepository(pool)
	resultRepo := db.NewSendResultRepository(pool)
	conversationRepo := db.NewConversationRepository(pool)
	notificationRepo := db.NewNotificationRepository(pool)

	// Service URLs come from job payloads, so outbound calls go through the
	// SSRF-safe transport.
	httpClient, err := security.NewSafeHTTPClient(cfg.Provider.Timeout, cfg.Provider.MaxRedirects)
	if err != nil {
		logger.Error("failed to build provider HTTP client", "error", err.Error())
		os.Exit(1)
	}
	providerClient := transport.NewClient(httpClient, "provider", cfg.Provider.UserAgent)
	sender := transport.NewMessageSender(providerClient, typedLogger)
	creator := transport.NewConversationCreator(providerClient, typedLogger)

	requeuer := queue.NewDelayRequeuer(sqsClient, cfg.AWS.SendQueueURL, throttleRepo, typedLogger)
	metrics := send.NewCloudWatchSendMetrics(cwClient, cfg.AWS.MetricNamespace, typedLogger)

	resolver := resolve.NewResolver(
		notificationRepo,
		conversationRepo,
		creator,
		requeuer,
		resultRepo,
		cfg.Send.RetryDelay(),
		typedLogger,
	)

	orchestrator := send.NewOrchestrator(
		send.NewAdmissionGate(throttleRepo),
		resolver,
		sender,
		requeuer,
		resultRepo,
		metrics,
		cfg.Send.MaxAttempts,
		cfg.Send.RetryDelay(),
		typedLogger,
	)

	handler := &Handler{
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       typedLogger,
	}

	logger.Info("send worker initialized",
		"send_queue", cfg.AWS.SendQueueURL,
		"max_send_attempts", cfg.Send.MaxAttempts,
		"retry_delay_seconds", cfg.Send.RetryDelaySeconds,
		"metric_namespace", cfg.AWS.MetricNamespace,
	)

	lambda.Start(handler.Handle)
}
