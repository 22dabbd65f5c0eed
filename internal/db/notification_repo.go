package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// NotificationRepository reads the rendered content of a notification.
// Content lives in the notifications table written by the authoring
// pipeline (out of scope here); the send worker only reads it.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// GetContent returns the message content for a notification. A missing
// notification is an ErrCodeNotFoundNotification AppError; the orchestrator
// treats it as a fault so the queue's redelivery accounting applies.
func (r *NotificationRepository) GetContent(ctx context.Context, notificationID string) (types.MessageContent, error) {
	var content types.MessageContent
	var title, summary *string
	err := r.db.QueryRow(ctx,
		`SELECT title, summary, body FROM notifications WHERE id = $1`,
		notificationID,
	).Scan(&title, &summary, &content.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.MessageContent{}, types.NewAppError(types.ErrCodeNotFoundNotification,
				"notification not found: "+notificationID, err)
		}
		return types.MessageContent{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read notification content", err)
	}
	if title != nil {
		content.Title = *title
	}
	if summary != nil {
		content.Summary = *summary
	}
	return content, nil
}
