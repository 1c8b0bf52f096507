package model

import (
	"time"
)

// Conversation is the mutable per-conversation record: status, ownership and
// cached last-message fields. Ownership invariant: automation_active implies
// assigned_operator_id IS NULL, and vice versa. Every ownership write sets
// both columns in a single statement to keep the invariant under races.
type Conversation struct {
	ID                 string             `db:"id" json:"id"`
	TenantID           string             `db:"tenant_id" json:"tenantId"`
	ContactID          string             `db:"contact_id" json:"contactId"`
	ConnectionID       *string            `db:"connection_id" json:"connectionId,omitempty"`
	AutomationActive   bool               `db:"automation_active" json:"automationActive"`
	AutomationAgentID  *string            `db:"automation_agent_id" json:"automationAgentId,omitempty"`
	AssignedOperatorID *string            `db:"assigned_operator_id" json:"assignedOperatorId,omitempty"`
	Status             ConversationStatus `db:"status" json:"status"`
	LastMessageSnippet *string            `db:"last_message_snippet" json:"lastMessageSnippet,omitempty"`
	LastMessageAt      *time.Time         `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount        int                `db:"unread_count" json:"unreadCount"`
	Archived           bool               `db:"archived" json:"archived"`
	MemoryResetAt      *time.Time         `db:"memory_reset_at" json:"memoryResetAt,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updatedAt"`
}

// HumanOwned reports whether a human operator currently owns the
// conversation. Used by the read-side listener to decide whether an inbound
// message should raise a notification.
func (c *Conversation) HumanOwned() bool {
	return !c.AutomationActive
}

type UpsertOnIngestParams struct {
	ConversationID  string
	TenantID        string
	ContactID       string
	Snippet         string
	Timestamp       time.Time
	IncrementUnread bool
}

type SetOwnershipParams struct {
	ConversationID     string
	AutomationActive   bool
	AutomationAgentID  *string
	AssignedOperatorID *string
}
