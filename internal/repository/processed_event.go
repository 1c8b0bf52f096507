package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ClaimResult is the outcome of a dedup claim attempt.
type ClaimResult string

const (
	Claimed        ClaimResult = "claimed"
	AlreadyClaimed ClaimResult = "already_claimed"
)

// ProcessedEventRepository is the claim-check table that makes dual-source
// ingestion idempotent. TryClaim is atomic: concurrent callers racing on the
// same external id see exactly one Claimed.
type ProcessedEventRepository interface {
	TryClaim(ctx context.Context, tenantID, channelID, externalMessageID string) (ClaimResult, error)
	Release(ctx context.Context, tenantID, channelID, externalMessageID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type processedEventRepo struct {
	db *sqlx.DB
}

func NewProcessedEventRepository(db *sqlx.DB) ProcessedEventRepository {
	return &processedEventRepo{db: db}
}

// TryClaim relies on the primary key over (tenant_id, channel_id,
// external_message_id): ON CONFLICT DO NOTHING reports zero rows affected for
// every caller except the single winner.
func (r *processedEventRepo) TryClaim(ctx context.Context, tenantID, channelID, externalMessageID string) (ClaimResult, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_events (tenant_id, channel_id, external_message_id, first_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_id, external_message_id) DO NOTHING
	`, tenantID, channelID, externalMessageID, time.Now().UTC())
	if err != nil {
		return AlreadyClaimed, wrapStorage(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return AlreadyClaimed, wrapStorage(err)
	}
	if rows == 0 {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}

// Release undoes a claim whose follow-up writes failed, so a provider
// redelivery can try the whole event again.
func (r *processedEventRepo) Release(ctx context.Context, tenantID, channelID, externalMessageID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE tenant_id = $1 AND channel_id = $2 AND external_message_id = $3
	`, tenantID, channelID, externalMessageID)
	return wrapStorage(err)
}

func (r *processedEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events WHERE first_seen_at < $1
	`, cutoff)
	if err != nil {
		return 0, wrapStorage(err)
	}
	return result.RowsAffected()
}
