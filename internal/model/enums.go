package model

type ConversationStatus string

const (
	StatusActiveService    ConversationStatus = "active_service"
	StatusAwaitingCustomer ConversationStatus = "awaiting_customer"
	StatusClosed           ConversationStatus = "closed"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindSystem   MessageKind = "system"
)

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionAwaitingScan ConnectionStatus = "awaiting_scan"
)

// DeliveryOutcome describes what happened on the external channel after a
// message was durably persisted. Local persistence never depends on it.
type DeliveryOutcome string

const (
	DeliveryDelivered      DeliveryOutcome = "delivered"
	DeliveryDispatchFailed DeliveryOutcome = "dispatch_failed"
	DeliveryNotConnected   DeliveryOutcome = "not_connected"
)

type IngestOutcome string

const (
	IngestInserted  IngestOutcome = "inserted"
	IngestDuplicate IngestOutcome = "duplicate"
)
