package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/chatsync-server/internal/model"
)

// MessageRepository is the append-only message ledger. Append never fails on
// business grounds; only transient storage errors propagate. Listing returns
// a snapshot ordered by (created_at, seq) so the order is total and stable no
// matter which ingestion path inserted each row.
type MessageRepository interface {
	Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID string, ascending bool) ([]model.Message, error)
	ListByConversationPaged(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	CountByConversation(ctx context.Context, conversationID string) (int, error)
	MarkRead(ctx context.Context, conversationID string) error
	SoftDelete(ctx context.Context, id string, deletedBy string) error
	EnrichMetadata(ctx context.Context, id string, metadata *model.Metadata) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MessageRepository
}

type messageRepo struct {
	db sqlxDB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) WithTx(tx *sqlx.Tx) MessageRepository {
	return &messageRepo{db: tx}
}

func (r *messageRepo) Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(id, conversation_id, contact_id, operator_id, body, kind, media_url,
			 metadata, direction, sent_by_automation, sent_by_external_device, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, uuid.NewString(), params.ConversationID, params.ContactID, params.OperatorID,
		params.Body, params.Kind, params.MediaURL, params.Metadata, params.Direction,
		params.SentByAutomation, params.SentByExternalDevice, createdAt)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return &msg, nil
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, ascending bool) ([]model.Message, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}

	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at `+order+`, seq `+order+`
	`, conversationID)
	return msgs, wrapStorage(err)
}

func (r *messageRepo) ListByConversationPaged(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	return msgs, wrapStorage(err)
}

func (r *messageRepo) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = $1
	`, conversationID)
	return count, wrapStorage(err)
}

func (r *messageRepo) MarkRead(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1 AND direction = 'inbound' AND read = FALSE
	`, conversationID)
	return wrapStorage(err)
}

func (r *messageRepo) SoftDelete(ctx context.Context, id string, deletedBy string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			deleted = TRUE,
			deleted_at = $2,
			deleted_by = $3
		WHERE id = $1 AND deleted = FALSE
	`, id, time.Now().UTC(), deletedBy)
	return wrapStorage(err)
}

func (r *messageRepo) EnrichMetadata(ctx context.Context, id string, metadata *model.Metadata) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET metadata = $2 WHERE id = $1
	`, id, metadata)
	return wrapStorage(err)
}
