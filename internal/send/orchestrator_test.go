package send

import (
	"context"
	"errors"
	"testing"
	"time"

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

// fixedStore is an in-memory ThrottleStateStore with injectable errors.
type fixedStore struct {
	state  ThrottleState
	getErr error
	setErr error
	sets   []time.Time
}

func (s *fixedStore) Get(context.Context) (ThrottleState, error) {
	if s.getErr != nil {
		return ThrottleState{}, s.getErr
	}
	return s.state, nil
}

func (s *fixedStore) Set(_ context.Context, t time.Time) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.sets = append(s.sets, t)
	return nil
}

// mockResolver returns a canned Resolution and counts calls.
type mockResolver struct {
	res   Resolution
	err   error
	calls int
}

func (m *mockResolver) Resolve(context.Context, types.SendJob, types.DeliveryMetadata) (Resolution, error) {
	m.calls++
	return m.res, m.err
}

// mockSender returns a canned SendResult and counts calls.
type mockSender struct {
	result SendResult
	err    error
	calls  int
}

func (m *mockSender) Send(context.Context, types.SendParams, int) (SendResult, error) {
	m.calls++
	return m.result, m.err
}

// mockRequeuer records requeue calls.
type mockRequeuer struct {
	requeues      []time.Duration
	throttleCalls []time.Duration
	requeueErr    error
	throttleErr   error
}

func (m *mockRequeuer) Requeue(_ context.Context, _ types.SendJob, delay time.Duration) error {
	if m.requeueErr != nil {
		return m.requeueErr
	}
	m.requeues = append(m.requeues, delay)
	return nil
}

func (m *mockRequeuer) RaiseDeadlineAndRequeue(_ context.Context, _ types.SendJob, delay time.Duration) error {
	if m.throttleErr != nil {
		return m.throttleErr
	}
	m.throttleCalls = append(m.throttleCalls, delay)
	return nil
}

// mockRecorder records result writes.
type mockRecorder struct {
	records []types.ResultRecord
	err     error
}

func (m *mockRecorder) Record(_ context.Context, rec types.ResultRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

const testRetryDelay = 660 * time.Second

type fixture struct {
	store    *fixedStore
	resolver *mockResolver
	sender   *mockSender
	requeuer *mockRequeuer
	recorder *mockRecorder
	orch     *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		store:    &fixedStore{},
		resolver: &mockResolver{},
		sender:   &mockSender{},
		requeuer: &mockRequeuer{},
		recorder: &mockRecorder{},
	}
	f.resolver.res = Resolution{RecipientID: "R1"}
	f.orch = NewOrchestrator(
		NewAdmissionGate(f.store),
		f.resolver,
		f.sender,
		f.requeuer,
		f.recorder,
		NopSendMetrics{},
		3,
		testRetryDelay,
		testLogger{},
	)
	return f
}

func testJob() types.SendJob {
	return types.SendJob{NotificationID: "N1", RecipientID: "R1"}
}

func testMeta(attempt int) types.DeliveryMetadata {
	return types.DeliveryMetadata{
		DeliveryAttempt: attempt,
		EnqueuedAt:      time.Now().Add(-time.Second),
		MessageID:       "msg-1",
	}
}

func TestProcess_DeferRequeuesWithNoOtherSideEffects(t *testing.T) {
	// Future deadline: the job is requeued with the configured delay and
	// nothing downstream runs.
	f := newFixture()
	future := time.Now().Add(time.Minute)
	f.store.state = ThrottleState{RetryNotBefore: &future}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	require.Len(t, f.requeuer.requeues, 1)
	assert.Equal(t, testRetryDelay, f.requeuer.requeues[0])
	assert.Empty(t, f.requeuer.throttleCalls)
	assert.Zero(t, f.resolver.calls)
	assert.Zero(t, f.sender.calls)
	assert.Empty(t, f.recorder.records)
	assert.Empty(t, f.store.sets, "defer must not touch the global deadline")
}

func TestProcess_PastDeadlineAdmits(t *testing.T) {
	f := newFixture()
	past := time.Now().Add(-time.Minute)
	f.store.state = ThrottleState{RetryNotBefore: &past}
	f.sender.result = SendResult{Outcome: Succeeded(200)}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	assert.Equal(t, 1, f.sender.calls)
}

func TestProcess_ForceStopTerminatesWithNoFurtherAction(t *testing.T) {
	f := newFixture()
	f.resolver.res = Resolution{ForceStop: true}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	assert.Zero(t, f.sender.calls)
	assert.Empty(t, f.recorder.records)
	assert.Empty(t, f.requeuer.requeues)
	assert.Empty(t, f.requeuer.throttleCalls)
}

func TestProcess_SucceededRecordsAccumulatedThrottles(t *testing.T) {
	f := newFixture()
	f.resolver.res = Resolution{RecipientID: "R1", ThrottleCount: 2}
	f.sender.result = SendResult{Outcome: Succeeded(201), ThrottleCount: 3}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	require.Len(t, f.recorder.records, 1)
	rec := f.recorder.records[0]
	assert.Equal(t, "N1", rec.NotificationID)
	assert.Equal(t, "R1", rec.RecipientID)
	assert.Equal(t, 5, rec.TotalThrottleCount)
	assert.False(t, rec.FromParamsResolution)
	assert.Equal(t, 201, rec.StatusCode)
	assert.Empty(t, rec.ErrorMessage)
	assert.Empty(t, f.requeuer.requeues)
	assert.Empty(t, f.requeuer.throttleCalls)
}

func TestProcess_ScenarioA_CleanSuccess(t *testing.T) {
	f := newFixture()
	f.sender.result = SendResult{Outcome: Succeeded(200)}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, 200, f.recorder.records[0].StatusCode)
	assert.Zero(t, f.recorder.records[0].TotalThrottleCount)
	assert.Empty(t, f.requeuer.requeues)
}

func TestProcess_ThrottledRequeuesAndNeverRecords(t *testing.T) {
	// Scenario B: all attempts rate-limited -> no record, one throttled
	// requeue with the configured delay.
	f := newFixture()
	f.sender.result = SendResult{Outcome: Throttled(429), ThrottleCount: 3}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	assert.Empty(t, f.recorder.records)
	require.Len(t, f.requeuer.throttleCalls, 1)
	assert.Equal(t, testRetryDelay, f.requeuer.throttleCalls[0])
	assert.Empty(t, f.requeuer.requeues)
}

func TestProcess_FailedRecordsAndNeverRequeues(t *testing.T) {
	f := newFixture()
	f.sender.result = SendResult{Outcome: Failed(403, "forbidden by provider")}

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionAck, decision)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, 403, f.recorder.records[0].StatusCode)
	assert.Equal(t, "forbidden by provider", f.recorder.records[0].ErrorMessage)
	assert.Empty(t, f.requeuer.requeues)
	assert.Empty(t, f.requeuer.throttleCalls)
}

func TestProcess_FaultBeforeLastDeliveryRecordsTransientAndPropagates(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("connection reset")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(3))

	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
	require.Len(t, f.recorder.records, 1)
	rec := f.recorder.records[0]
	assert.Equal(t, StatusCodeFaultedRetrying, rec.StatusCode)
	assert.Contains(t, rec.ErrorMessage, "connection reset")
}

func TestProcess_FaultOnLastDeliveryRecordsTerminalAndPropagates(t *testing.T) {
	// Scenario C: fault on the 10th delivery dead-letters.
	f := newFixture()
	f.sender.err = errors.New("boom")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(10))

	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, StatusCodeFaultedTerminal, f.recorder.records[0].StatusCode)
	assert.Contains(t, f.recorder.records[0].ErrorMessage, "boom")
}

func TestProcess_FaultRecordUsesOriginalRecipientID(t *testing.T) {
	// Resolution may have rewritten the recipient; the fault record must be
	// keyed by the original payload since resolution may not have completed.
	f := newFixture()
	f.resolver.res = Resolution{RecipientID: "resolved-other"}
	f.sender.err = errors.New("boom")

	job := testJob()
	f.orch.Process(context.Background(), job, testMeta(2))

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, job.RecipientID, f.recorder.records[0].RecipientID)
}

func TestProcess_FaultCarriesAccumulatedThrottles(t *testing.T) {
	f := newFixture()
	f.resolver.res = Resolution{RecipientID: "R1", ThrottleCount: 2}
	f.sender.result = SendResult{ThrottleCount: 1}
	f.sender.err = errors.New("boom")

	f.orch.Process(context.Background(), testJob(), testMeta(2))

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, 3, f.recorder.records[0].TotalThrottleCount)
}

func TestProcess_AdmissionErrorTakesFaultPath(t *testing.T) {
	f := newFixture()
	f.store.getErr = errors.New("db down")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
	assert.Zero(t, f.resolver.calls)
	require.Len(t, f.recorder.records, 1)
	assert.Contains(t, f.recorder.records[0].ErrorMessage, "admission check")
}

func TestProcess_DeferRequeueErrorTakesFaultPath(t *testing.T) {
	f := newFixture()
	future := time.Now().Add(time.Minute)
	f.store.state = ThrottleState{RetryNotBefore: &future}
	f.requeuer.requeueErr = errors.New("sqs unavailable")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
}

func TestProcess_ThrottledRequeueErrorTakesFaultPath(t *testing.T) {
	// Losing the requeue would silently drop the job; it must propagate so
	// the queue redelivers.
	f := newFixture()
	f.sender.result = SendResult{Outcome: Throttled(429), ThrottleCount: 3}
	f.requeuer.throttleErr = errors.New("sqs unavailable")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
}

func TestProcess_RecordErrorTakesFaultPath(t *testing.T) {
	f := newFixture()
	f.sender.result = SendResult{Outcome: Succeeded(200)}
	f.recorder.err = errors.New("insert failed")

	decision := f.orch.Process(context.Background(), testJob(), testMeta(1))

	// The fault-path record also fails here; the decision still propagates.
	assert.Equal(t, DecisionRetryOrDeadLetter, decision)
}
