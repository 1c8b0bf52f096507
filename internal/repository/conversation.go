package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/chatsync-server/internal/model"
)

// ConversationRepository is the conversation store. Every mutation is a
// partial field update, never a whole-record replacement: ingestion, human
// sends and ownership operations race on the same row and must stay
// commutative on disjoint fields.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	ListByTenant(ctx context.Context, tenantID string, includeArchived bool, limit, offset int) ([]model.Conversation, error)
	UpsertOnIngest(ctx context.Context, params model.UpsertOnIngestParams) (*model.Conversation, error)
	SetLastMessage(ctx context.Context, id, snippet string, at time.Time) error
	SetStatus(ctx context.Context, id string, status model.ConversationStatus) error
	SetOwnership(ctx context.Context, params model.SetOwnershipParams) error
	SetOwnershipAndStatus(ctx context.Context, params model.SetOwnershipParams, status model.ConversationStatus) error
	SetConnection(ctx context.Context, id, connectionID string) error
	ResetUnread(ctx context.Context, id string) error
	MarkClosed(ctx context.Context, id string, memoryResetAt time.Time) error
	MarkReopened(ctx context.Context, id string) error
	SetArchived(ctx context.Context, id string, archived bool) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ConversationRepository
}

type conversationRepo struct {
	db sqlxDB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) WithTx(tx *sqlx.Tx) ConversationRepository {
	return &conversationRepo{db: tx}
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, id)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) ListByTenant(ctx context.Context, tenantID string, includeArchived bool, limit, offset int) ([]model.Conversation, error) {
	query := `
		SELECT * FROM conversations
		WHERE tenant_id = $1
	`
	if !includeArchived {
		query += ` AND archived = FALSE`
	}
	query += `
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`

	var convs []model.Conversation
	err := r.db.SelectContext(ctx, &convs, query, tenantID, limit, offset)
	return convs, wrapStorage(err)
}

// UpsertOnIngest creates the row if the collaborator that normally creates
// conversations has not done so yet, and otherwise touches only the
// last-message cache fields and unread counter.
func (r *conversationRepo) UpsertOnIngest(ctx context.Context, params model.UpsertOnIngestParams) (*model.Conversation, error) {
	unreadDelta := 0
	if params.IncrementUnread {
		unreadDelta = 1
	}

	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		INSERT INTO conversations
			(id, tenant_id, contact_id, automation_active, status,
			 last_message_snippet, last_message_at, unread_count)
		VALUES ($1, $2, $3, TRUE, 'active_service', $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			last_message_snippet = EXCLUDED.last_message_snippet,
			last_message_at = EXCLUDED.last_message_at,
			unread_count = conversations.unread_count + $6,
			updated_at = NOW()
		RETURNING *
	`, params.ConversationID, params.TenantID, params.ContactID,
		params.Snippet, params.Timestamp, unreadDelta)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return &conv, nil
}

func (r *conversationRepo) SetLastMessage(ctx context.Context, id, snippet string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_snippet = $2,
			last_message_at = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, snippet, at)
	return wrapStorage(err)
}

func (r *conversationRepo) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return wrapStorage(err)
}

// SetOwnership writes all three ownership columns in one statement so the
// ownership invariant can never be observed half-applied.
func (r *conversationRepo) SetOwnership(ctx context.Context, params model.SetOwnershipParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			automation_active = $2,
			automation_agent_id = $3,
			assigned_operator_id = $4,
			updated_at = NOW()
		WHERE id = $1
	`, params.ConversationID, params.AutomationActive,
		params.AutomationAgentID, params.AssignedOperatorID)
	return wrapStorage(err)
}

// SetOwnershipAndStatus is the human-send transition: ownership flip and
// status change must be atomically observable together.
func (r *conversationRepo) SetOwnershipAndStatus(ctx context.Context, params model.SetOwnershipParams, status model.ConversationStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			automation_active = $2,
			automation_agent_id = $3,
			assigned_operator_id = $4,
			status = $5,
			updated_at = NOW()
		WHERE id = $1
	`, params.ConversationID, params.AutomationActive,
		params.AutomationAgentID, params.AssignedOperatorID, status)
	return wrapStorage(err)
}

func (r *conversationRepo) SetConnection(ctx context.Context, id, connectionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET connection_id = $2, updated_at = NOW()
		WHERE id = $1 AND connection_id IS NULL
	`, id, connectionID)
	return wrapStorage(err)
}

// ResetUnread is idempotent: setting zero twice is a no-op.
func (r *conversationRepo) ResetUnread(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET unread_count = 0, updated_at = NOW()
		WHERE id = $1 AND unread_count <> 0
	`, id)
	return wrapStorage(err)
}

// MarkClosed sets the terminal status, deactivates automation and stamps the
// memory reset boundary. Closing an already-closed conversation just moves
// the boundary forward, never errors.
func (r *conversationRepo) MarkClosed(ctx context.Context, id string, memoryResetAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			status = 'closed',
			automation_active = FALSE,
			memory_reset_at = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, memoryResetAt)
	return wrapStorage(err)
}

// MarkReopened restores active service without touching memory_reset_at: the
// boundary is preserved for the automation-context subsystem.
func (r *conversationRepo) MarkReopened(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			status = 'active_service',
			updated_at = NOW()
		WHERE id = $1 AND status = 'closed'
	`, id)
	return wrapStorage(err)
}

func (r *conversationRepo) SetArchived(ctx context.Context, id string, archived bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET archived = $2, updated_at = NOW() WHERE id = $1
	`, id, archived)
	return wrapStorage(err)
}

// NewConversationID generates an id for collaborators that create
// conversations ahead of the first ingest.
func NewConversationID() string {
	return uuid.NewString()
}
