package send

import (
	"context"
	"time"
)

// Admission is the decision of the global throttle gate.
type Admission string

const (
	// AdmissionAdmit lets the invocation proceed to resolution and send.
	AdmissionAdmit Admission = "admit"

	// AdmissionDefer means the whole system is back-pressured: the job must
	// be re-enqueued unchanged with the configured delay and the invocation
	// must terminate with no further side effects.
	AdmissionDefer Admission = "defer"
)

// ThrottleState is the shared, system-wide backoff signal. A nil
// RetryNotBefore means no deadline is in effect.
type ThrottleState struct {
	RetryNotBefore *time.Time
}

// ThrottleStateStore holds the single system-wide retry-not-before record
// shared by all concurrent workers.
//
// The store is intentionally eventually consistent: Get and Set run without
// locks, transactions, or compare-and-swap. A race between a read and a
// concurrent write can admit a few extra jobs during a throttle window or
// make one worker miss a freshly-set deadline by milliseconds. The cost is
// at most a handful of extra attempts against the rate-limited provider,
// never a correctness violation, so last-writer-wins is sufficient.
type ThrottleStateStore interface {
	Get(ctx context.Context) (ThrottleState, error)
	Set(ctx context.Context, retryNotBefore time.Time) error
}

// AdmissionGate performs the global throttle check. It runs before any
// other work in an invocation so back-pressured workers make no downstream
// calls at all.
type AdmissionGate struct {
	store ThrottleStateStore
	now   func() time.Time
}

// NewAdmissionGate creates an AdmissionGate over the given store.
func NewAdmissionGate(store ThrottleStateStore) *AdmissionGate {
	return &AdmissionGate{store: store, now: time.Now}
}

// CheckAdmission reads the shared state and returns AdmissionDefer when a
// retry-not-before deadline exists and lies in the future, AdmissionAdmit
// otherwise (no deadline, or deadline already passed).
func (g *AdmissionGate) CheckAdmission(ctx context.Context) (Admission, error) {
	state, err := g.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if state.RetryNotBefore != nil && g.now().Before(*state.RetryNotBefore) {
		return AdmissionDefer, nil
	}
	return AdmissionAdmit, nil
}
