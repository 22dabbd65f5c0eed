package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/types"
)

// testLogger implements types.Logger and discards everything.
type testLogger struct{}

func (testLogger) Info(string, ...any)        {}
func (testLogger) Error(string, ...any)       {}
func (testLogger) Warn(string, ...any)        {}
func (l testLogger) With(...any) types.Logger { return l }

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	m.calls = append(m.calls, params)
	return &sqs.SendMessageOutput{}, nil
}

// mockDeadlineStore records deadline writes.
type mockDeadlineStore struct {
	sets      []time.Time
	returnErr error
}

func (m *mockDeadlineStore) Set(_ context.Context, t time.Time) error {
	if m.returnErr != nil {
		return m.returnErr
	}
	m.sets = append(m.sets, t)
	return nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/send-jobs"

func newRequeuer(sender *mockSQSSender, store *mockDeadlineStore) *DelayRequeuer {
	return NewDelayRequeuer(sender, testQueueURL, store, testLogger{})
}

func TestRequeue_PublishesJobUnchangedWithDelay(t *testing.T) {
	sender := &mockSQSSender{}
	store := &mockDeadlineStore{}
	r := newRequeuer(sender, store)

	job := types.SendJob{NotificationID: "N1", RecipientID: "R1", TraceID: "t-1"}
	err := r.Requeue(context.Background(), job, 30*time.Second)

	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, testQueueURL, *sender.calls[0].QueueUrl)
	assert.Equal(t, int32(30), sender.calls[0].DelaySeconds)

	decoded, err := DecodeJob(*sender.calls[0].MessageBody)
	require.NoError(t, err)
	assert.Equal(t, job, decoded)

	assert.Empty(t, store.sets, "plain requeue must not raise the deadline")
}

func TestRequeue_ClampsDelayToSQSMaximum(t *testing.T) {
	sender := &mockSQSSender{}
	r := newRequeuer(sender, &mockDeadlineStore{})

	err := r.Requeue(context.Background(), types.SendJob{NotificationID: "N1", RecipientID: "R1"}, time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int32(900), sender.calls[0].DelaySeconds)
}

func TestRaiseDeadlineAndRequeue_PerformsBothSideEffects(t *testing.T) {
	sender := &mockSQSSender{}
	store := &mockDeadlineStore{}
	r := newRequeuer(sender, store)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	delay := 660 * time.Second
	err := r.RaiseDeadlineAndRequeue(context.Background(), types.SendJob{NotificationID: "N1", RecipientID: "R1"}, delay)

	require.NoError(t, err)
	require.Len(t, store.sets, 1)
	assert.Equal(t, now.Add(delay), store.sets[0])
	require.Len(t, sender.calls, 1)
	assert.Equal(t, int32(660), sender.calls[0].DelaySeconds)
}

func TestRaiseDeadlineAndRequeue_DeadlineWriteFailureSurfaces(t *testing.T) {
	r := newRequeuer(&mockSQSSender{}, &mockDeadlineStore{returnErr: errors.New("db down")})

	err := r.RaiseDeadlineAndRequeue(context.Background(), types.SendJob{NotificationID: "N1", RecipientID: "R1"}, time.Second)

	assert.Error(t, err)
}

func TestRaiseDeadlineAndRequeue_RequeueFailureSurfaces(t *testing.T) {
	r := newRequeuer(&mockSQSSender{returnErr: errors.New("sqs down")}, &mockDeadlineStore{})

	err := r.RaiseDeadlineAndRequeue(context.Background(), types.SendJob{NotificationID: "N1", RecipientID: "R1"}, time.Second)

	assert.Error(t, err)
}
