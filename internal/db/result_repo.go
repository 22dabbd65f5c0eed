package db

import (
	"context"

	"courier/internal/send"
	"courier/internal/types"
)

// SendResultRepository implements send.ResultRecorder over the
// send_results table:
//
//	CREATE TABLE send_results (
//	    notification_id        text NOT NULL,
//	    recipient_id           text NOT NULL,
//	    throttle_count         int  NOT NULL DEFAULT 0,
//	    from_params_resolution boolean NOT NULL DEFAULT false,
//	    status_code            int  NOT NULL,
//	    error_message          text,
//	    updated_at             timestamptz NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (notification_id, recipient_id)
//	);
//
// Redeliveries of the same job write the same (notification_id,
// recipient_id) pair again; the upsert overwrites, so the row always holds
// the latest invocation's outcome. A transient fault row (status_code 0)
// is replaced by the terminal row once a later delivery completes.
type SendResultRepository struct {
	db DBTX
}

var _ send.ResultRecorder = (*SendResultRepository)(nil)

// NewSendResultRepository creates a SendResultRepository backed by the
// given connection (pool or transaction).
func NewSendResultRepository(db DBTX) *SendResultRepository {
	return &SendResultRepository{db: db}
}

// Record upserts the outcome row for the (notification, recipient) pair.
func (r *SendResultRepository) Record(ctx context.Context, rec types.ResultRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO send_results
		 (notification_id, recipient_id, throttle_count, from_params_resolution,
		  status_code, error_message, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (notification_id, recipient_id) DO UPDATE SET
		    throttle_count         = EXCLUDED.throttle_count,
		    from_params_resolution = EXCLUDED.from_params_resolution,
		    status_code            = EXCLUDED.status_code,
		    error_message          = EXCLUDED.error_message,
		    updated_at             = NOW()`,
		rec.NotificationID,
		rec.RecipientID,
		rec.TotalThrottleCount,
		rec.FromParamsResolution,
		rec.StatusCode,
		nilIfEmpty(rec.ErrorMessage),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record send result", err)
	}
	return nil
}

// nilIfEmpty maps an empty string to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
