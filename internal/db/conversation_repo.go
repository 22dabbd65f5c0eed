package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"courier/internal/types"
)

// ConversationRepository caches resolved recipient conversations in the
// recipient_conversations table so repeated sends to the same recipient
// skip the provider's conversation-creation call:
//
//	CREATE TABLE recipient_conversations (
//	    recipient_id    text PRIMARY KEY,
//	    conversation_id text NOT NULL,
//	    service_url     text NOT NULL,
//	    tenant_id       text,
//	    created_at      timestamptz NOT NULL DEFAULT NOW()
//	);
type ConversationRepository struct {
	db DBTX
}

// NewConversationRepository creates a ConversationRepository backed by the
// given connection (pool or transaction).
func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetConversation returns the cached conversation for a recipient, or nil
// when none is stored.
func (r *ConversationRepository) GetConversation(ctx context.Context, recipientID string) (*types.Conversation, error) {
	conv := types.Conversation{RecipientID: recipientID}
	var tenantID *string
	err := r.db.QueryRow(ctx,
		`SELECT conversation_id, service_url, tenant_id, created_at
		 FROM recipient_conversations WHERE recipient_id = $1`,
		recipientID,
	).Scan(&conv.ConversationID, &conv.ServiceURL, &tenantID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read conversation", err)
	}
	if tenantID != nil {
		conv.TenantID = *tenantID
	}
	return &conv, nil
}

// SaveConversation upserts the cached conversation for a recipient.
func (r *ConversationRepository) SaveConversation(ctx context.Context, conv *types.Conversation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO recipient_conversations
		 (recipient_id, conversation_id, service_url, tenant_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (recipient_id) DO UPDATE SET
		    conversation_id = EXCLUDED.conversation_id,
		    service_url     = EXCLUDED.service_url,
		    tenant_id       = EXCLUDED.tenant_id`,
		conv.RecipientID,
		conv.ConversationID,
		conv.ServiceURL,
		nilIfEmpty(conv.TenantID),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save conversation", err)
	}
	return nil
}
