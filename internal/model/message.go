package model

import (
	"encoding/json"
	"time"
)

// Message is an append-only ledger row. Once written, the
// (conversation, direction, created_at, body) tuple never changes; only the
// read flag, the soft-delete fields and the metadata payload may be updated.
type Message struct {
	ID                   string           `db:"id" json:"id"`
	Seq                  int64            `db:"seq" json:"seq"`
	ConversationID       string           `db:"conversation_id" json:"conversationId"`
	ContactID            *string          `db:"contact_id" json:"contactId,omitempty"`
	OperatorID           *string          `db:"operator_id" json:"operatorId,omitempty"`
	Body                 string           `db:"body" json:"body"`
	Kind                 MessageKind      `db:"kind" json:"kind"`
	MediaURL             *string          `db:"media_url" json:"mediaUrl,omitempty"`
	Metadata             *Metadata        `db:"metadata" json:"metadata,omitempty"`
	Direction            MessageDirection `db:"direction" json:"direction"`
	Read                 bool             `db:"read" json:"read"`
	SentByAutomation     bool             `db:"sent_by_automation" json:"sentByAutomation"`
	SentByExternalDevice bool             `db:"sent_by_external_device" json:"sentByExternalDevice"`
	Deleted              bool             `db:"deleted" json:"deleted"`
	DeletedAt            *time.Time       `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy            *string          `db:"deleted_by" json:"deletedBy,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"createdAt"`
}

// Snippet returns the text used for the conversation list preview.
func (m *Message) Snippet() string {
	if m.Kind == KindText || m.Body != "" {
		return m.Body
	}
	return "[" + string(m.Kind) + "]"
}

// ToEventData returns the JSON payload published on the realtime bus when
// this message is inserted.
func (m *Message) ToEventData() json.RawMessage {
	data, _ := json.Marshal(m)
	return data
}

type AppendMessageParams struct {
	ConversationID       string
	ContactID            *string
	OperatorID           *string
	Body                 string
	Kind                 MessageKind
	MediaURL             *string
	Metadata             *Metadata
	Direction            MessageDirection
	SentByAutomation     bool
	SentByExternalDevice bool
	CreatedAt            time.Time
}
