package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is the structured annotation payload on a message. The known keys
// are typed; anything else a producer attaches survives round-trips through
// Extra so older servers never drop newer fields.
type Metadata struct {
	// Internal marks a message as not visible to the end customer
	// (e.g. transfer audit records).
	Internal bool `json:"internal,omitempty"`

	// DecisionKind/DecisionValue record an automation decision attached to
	// the message, for the automation-context subsystem to consult.
	DecisionKind  string `json:"decisionKind,omitempty"`
	DecisionValue string `json:"decisionValue,omitempty"`

	// DeliveryError is enriched onto an outbound message when external
	// dispatch fails after the message was already persisted.
	DeliveryError string `json:"deliveryError,omitempty"`

	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Value implements driver.Valuer so Metadata persists as jsonb.
func (m *Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// InternalMetadata is the payload for audit messages the customer never sees.
func InternalMetadata() *Metadata {
	return &Metadata{Internal: true}
}
