package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"courier/internal/send"
	"courier/internal/types"
)

// throttleStateRowID is the fixed primary key of the singleton row in
// send_throttle_state. Every worker reads and writes the same record.
const throttleStateRowID = 1

// ThrottleStateRepository implements send.ThrottleStateStore over a
// single-row Postgres table:
//
//	CREATE TABLE send_throttle_state (
//	    id               smallint PRIMARY KEY,
//	    retry_not_before timestamptz
//	);
//
// Reads and writes run without a transaction or compare-and-swap; the row
// is last-writer-wins by design (see send.ThrottleStateStore).
type ThrottleStateRepository struct {
	db DBTX
}

var _ send.ThrottleStateStore = (*ThrottleStateRepository)(nil)

// NewThrottleStateRepository creates a ThrottleStateRepository backed by
// the given connection (pool or transaction).
func NewThrottleStateRepository(db DBTX) *ThrottleStateRepository {
	return &ThrottleStateRepository{db: db}
}

// Get reads the shared retry-not-before deadline. A missing row or a NULL
// column both mean no deadline is in effect.
func (r *ThrottleStateRepository) Get(ctx context.Context) (send.ThrottleState, error) {
	var retryNotBefore *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT retry_not_before FROM send_throttle_state WHERE id = $1`,
		throttleStateRowID,
	).Scan(&retryNotBefore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return send.ThrottleState{}, nil
		}
		return send.ThrottleState{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read throttle state", err)
	}
	return send.ThrottleState{RetryNotBefore: retryNotBefore}, nil
}

// Set upserts the shared deadline, overwriting whatever a concurrent
// worker may have written a moment earlier.
func (r *ThrottleStateRepository) Set(ctx context.Context, retryNotBefore time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO send_throttle_state (id, retry_not_before)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET retry_not_before = EXCLUDED.retry_not_before`,
		throttleStateRowID,
		retryNotBefore,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write throttle state", err)
	}
	return nil
}
