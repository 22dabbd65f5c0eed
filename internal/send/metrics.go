package send

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"courier/internal/types"
)

// Metric names and dimensions emitted by the send worker.
const (
	metricSendOutcome = "SendOutcome"
	metricDeferred    = "SendDeferred"
	metricFault       = "SendFault"
	metricQueueLag    = "QueueLag"

	dimOutcome = "Outcome"
	dimTier    = "Tier"

	tierRedeliver  = "redeliver"
	tierDeadLetter = "dead_letter"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSendMetrics emits send pipeline telemetry to CloudWatch.
// Metric publication is best effort: failures are logged and never affect
// the invocation outcome.
type CloudWatchSendMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ SendMetrics = (*CloudWatchSendMetrics)(nil)

// NewCloudWatchSendMetrics creates send metrics publishing to the given
// CloudWatch namespace.
func NewCloudWatchSendMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchSendMetrics {
	return &CloudWatchSendMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome counts one terminal send outcome.
func (m *CloudWatchSendMetrics) RecordOutcome(ctx context.Context, kind OutcomeKind) {
	m.put(ctx, metricSendOutcome, 1, cwtypes.StandardUnitCount, cwtypes.Dimension{
		Name:  aws.String(dimOutcome),
		Value: aws.String(string(kind)),
	})
}

// RecordDeferred counts one invocation deferred by the global throttle gate.
func (m *CloudWatchSendMetrics) RecordDeferred(ctx context.Context) {
	m.put(ctx, metricDeferred, 1, cwtypes.StandardUnitCount)
}

// RecordFault counts one unhandled fault, dimensioned by whether the
// message will be redelivered or dead-lettered.
func (m *CloudWatchSendMetrics) RecordFault(ctx context.Context, deadLetter bool) {
	tier := tierRedeliver
	if deadLetter {
		tier = tierDeadLetter
	}
	m.put(ctx, metricFault, 1, cwtypes.StandardUnitCount, cwtypes.Dimension{
		Name:  aws.String(dimTier),
		Value: aws.String(tier),
	})
}

// RecordQueueLag reports the time between message enqueue and processing
// start, in milliseconds.
func (m *CloudWatchSendMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, metricQueueLag, float64(lag.Milliseconds()), cwtypes.StandardUnitMilliseconds)
}

func (m *CloudWatchSendMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"metric", name,
			"error", err.Error(),
		)
	}
}

// NopSendMetrics discards all telemetry. Used in tests and in tools where
// CloudWatch is unavailable.
type NopSendMetrics struct{}

var _ SendMetrics = (*NopSendMetrics)(nil)

func (NopSendMetrics) RecordOutcome(context.Context, OutcomeKind) {}
func (NopSendMetrics) RecordDeferred(context.Context) {}
func (NopSendMetrics) RecordFault(context.Context, bool) {}
func (NopSendMetrics) RecordQueueLag(context.Context, time.Duration) {}
