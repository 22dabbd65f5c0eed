// Package main implements the job-runner CLI tool for enqueueing probe
// SendJobs directly onto the send queue, bypassing the upstream producer.
//
// This tool is intended for local development and operational debugging:
// verifying queue wiring, exercising the throttle deferral path, and
// replaying a job for a specific recipient.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --notification-id=N1 --recipient-id=R1 \
//	    --service-url=https://provider.example.com --user-id=U1
//	go run ./cmd/tools/job-runner --dry-run --notification-id=N1 --recipient-id=R1
//
// The tool reads SQS_SEND_QUEUE and AWS settings from environment variables
// (or a .env file via godotenv). In --dry-run mode it prints the encoded
// message body without publishing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"courier/internal/queue"
	"courier/internal/types"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	notificationID := flag.String("notification-id", "", "notification to deliver (required)")
	recipientID := flag.String("recipient-id", "", "recipient to deliver to (required)")
	userID := flag.String("user-id", "", "provider user ID for conversation creation")
	serviceURL := flag.String("service-url", "", "provider service URL for the recipient")
	conversationID := flag.String("conversation-id", "", "existing conversation, skips creation")
	delay := flag.Duration("delay", 0, "publish delay (max 15m)")
	dryRun := flag.Bool("dry-run", false, "print the encoded body without publishing")
	flag.Parse()

	if *notificationID == "" || *recipientID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	job := types.SendJob{
		NotificationID: *notificationID,
		RecipientID:    *recipientID,
		Recipient: types.RecipientInfo{
			UserID:         *userID,
			ServiceURL:     *serviceURL,
			ConversationID: *conversationID,
		},
		TraceID: uuid.New().String(),
	}

	body, err := queue.EncodeJob(job)
	if err != nil {
		logger.Error("failed to encode job", "error", err.Error())
		os.Exit(1)
	}

	if *dryRun {
		fmt.Println(body)
		return
	}

	queueURL := os.Getenv("SQS_SEND_QUEUE")
	if queueURL == "" {
		logger.Error("SQS_SEND_QUEUE is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err.Error())
		os.Exit(1)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})

	delaySec := int32(delay.Seconds())
	if delaySec > 900 {
		delaySec = 900
	}
	if delaySec < 0 {
		delaySec = 0
	}

	out, err := client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: delaySec,
	})
	if err != nil {
		logger.Error("failed to publish job", "error", err.Error())
		os.Exit(1)
	}

	logger.Info("job published",
		"queue_url", queueURL,
		"message_id", aws.ToString(out.MessageId),
		"trace_id", job.TraceID,
		"delay_seconds", delaySec,
	)
}
