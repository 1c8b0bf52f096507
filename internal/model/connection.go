package model

import "time"

// Connection is owned by the provisioning subsystem; this engine only reads
// status to decide whether to poll or dispatch, and applies status updates
// arriving on the connection feed.
type Connection struct {
	ID                 string           `db:"id" json:"id"`
	TenantID           string           `db:"tenant_id" json:"tenantId"`
	ExternalInstanceID string           `db:"external_instance_id" json:"externalInstanceId"`
	Status             ConnectionStatus `db:"status" json:"status"`
	PhoneNumber        *string          `db:"phone_number" json:"phoneNumber,omitempty"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updatedAt"`
}

func (c *Connection) IsConnected() bool {
	return c.Status == ConnectionConnected
}

// ProcessedEvent is the write-once dedup claim for an externally-sourced
// message id. Existence is the claim; there is nothing to update.
type ProcessedEvent struct {
	TenantID          string    `db:"tenant_id" json:"tenantId"`
	ChannelID         string    `db:"channel_id" json:"channelId"`
	ExternalMessageID string    `db:"external_message_id" json:"externalMessageId"`
	FirstSeenAt       time.Time `db:"first_seen_at" json:"firstSeenAt"`
}

// Tenant carries the API credential for the HTTP boundary.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TokenHash string    `db:"token_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
