package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/database"
	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/gateway"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

// Dispatcher is the outbound delivery adapter boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, connectionID string, req gateway.DispatchRequest) error
}

// TxRunner runs a function inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type SendParams struct {
	ConversationID string
	OperatorID     string
	Body           string
	Kind           model.MessageKind
	MediaURL       *string
}

type SendResult struct {
	Message         *model.Message
	DeliveryOutcome model.DeliveryOutcome
	DeliveryError   string
}

// SendService implements the outbound path: ledger append and conversation
// update first (durability), external dispatch last (best effort). Dispatch
// failure never undoes local persistence.
type SendService struct {
	db          TxRunner
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	connRepo    repository.ConnectionRepository
	dispatcher  Dispatcher
	publisher   EventPublisher
}

func NewSendService(
	db TxRunner,
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	connRepo repository.ConnectionRepository,
	dispatcher Dispatcher,
	publisher EventPublisher,
) *SendService {
	return &SendService{
		db:          db,
		messageRepo: messageRepo,
		convRepo:    convRepo,
		connRepo:    connRepo,
		dispatcher:  dispatcher,
		publisher:   publisher,
	}
}

// SendAsOperator is the single atomic send command. Sending as an operator is
// the primary handoff trigger: it flips automation off, assigns the sender
// and moves status to awaiting-customer in one statement, together with the
// ledger append, before any external dispatch is attempted.
func (s *SendService) SendAsOperator(ctx context.Context, params SendParams) (*SendResult, error) {
	if params.Body == "" && params.MediaURL == nil {
		return nil, apperrors.MissingRequired("body")
	}
	if params.Kind == "" {
		params.Kind = model.KindText
	}

	conv, err := s.convRepo.FindByID(ctx, params.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	// The append and the ownership flip commit together: a failure on either
	// leaves no stray ledger row behind, so retries cannot duplicate the send.
	operatorID := params.OperatorID
	var msg *model.Message
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		msg, txErr = s.messageRepo.WithTx(tx).Append(ctx, model.AppendMessageParams{
			ConversationID: params.ConversationID,
			OperatorID:     &params.OperatorID,
			Body:           params.Body,
			Kind:           params.Kind,
			MediaURL:       params.MediaURL,
			Direction:      model.DirectionOutbound,
			CreatedAt:      time.Now().UTC(),
		})
		if txErr != nil {
			return txErr
		}
		return s.convRepo.WithTx(tx).SetOwnershipAndStatus(ctx, model.SetOwnershipParams{
			ConversationID:     conv.ID,
			AutomationActive:   false,
			AutomationAgentID:  conv.AutomationAgentID,
			AssignedOperatorID: &operatorID,
		}, model.StatusAwaitingCustomer)
	})
	if err != nil {
		return nil, err
	}

	if err := s.convRepo.SetLastMessage(ctx, conv.ID, msg.Snippet(), msg.CreatedAt); err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to update last-message cache")
	}

	conv.AutomationActive = false
	conv.AssignedOperatorID = &operatorID
	conv.Status = model.StatusAwaitingCustomer
	s.publish(ctx, conv.TenantID, sse.MessageInserted(msg))
	s.publish(ctx, conv.TenantID, sse.ConversationUpserted(conv))

	result := &SendResult{Message: msg}
	result.DeliveryOutcome, result.DeliveryError = s.dispatch(ctx, conv, msg)

	log.Info().
		Str("messageId", msg.ID).
		Str("conversationId", conv.ID).
		Str("operatorId", params.OperatorID).
		Str("deliveryOutcome", string(result.DeliveryOutcome)).
		Msg("operator message sent")

	return result, nil
}

// SendAsAgent sends on behalf of the automated agent. Ownership is not
// changed; the call is rejected when automation is inactive so a late agent
// reply cannot talk over a human operator.
func (s *SendService) SendAsAgent(ctx context.Context, conversationID, agentID, body string, kind model.MessageKind, mediaURL *string) (*SendResult, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}
	if !conv.AutomationActive {
		return nil, apperrors.ValidationError("automation is not active for this conversation")
	}
	if kind == "" {
		kind = model.KindText
	}

	msg, err := s.messageRepo.Append(ctx, model.AppendMessageParams{
		ConversationID:   conversationID,
		Body:             body,
		Kind:             kind,
		MediaURL:         mediaURL,
		Direction:        model.DirectionOutbound,
		SentByAutomation: true,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.convRepo.SetLastMessage(ctx, conv.ID, msg.Snippet(), msg.CreatedAt); err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to update last-message cache")
	}

	s.publish(ctx, conv.TenantID, sse.MessageInserted(msg))

	result := &SendResult{Message: msg}
	result.DeliveryOutcome, result.DeliveryError = s.dispatch(ctx, conv, msg)

	log.Info().
		Str("messageId", msg.ID).
		Str("conversationId", conv.ID).
		Str("agentId", agentID).
		Str("deliveryOutcome", string(result.DeliveryOutcome)).
		Msg("agent message sent")

	return result, nil
}

// dispatch resolves a connected channel and attempts best-effort delivery.
// "Saved locally but not delivered" is a first-class outcome, never silent.
func (s *SendService) dispatch(ctx context.Context, conv *model.Conversation, msg *model.Message) (model.DeliveryOutcome, string) {
	conn, err := s.resolveConnection(ctx, conv)
	if err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("connection lookup failed, message kept locally")
		return model.DeliveryNotConnected, ""
	}
	if conn == nil || !conn.IsConnected() {
		log.Warn().Str("conversationId", conv.ID).Msg("no connected channel, message kept locally")
		return model.DeliveryNotConnected, ""
	}

	err = s.dispatcher.Dispatch(ctx, conn.ID, gateway.DispatchRequest{
		RecipientAddress: conv.ContactID,
		Body:             msg.Body,
		Kind:             msg.Kind,
		MediaURL:         msg.MediaURL,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("messageId", msg.ID).
			Str("connectionId", conn.ID).
			Msg("external dispatch failed, message kept locally")

		meta := msg.Metadata
		if meta == nil {
			meta = &model.Metadata{}
		}
		meta.DeliveryError = err.Error()
		if enrichErr := s.messageRepo.EnrichMetadata(ctx, msg.ID, meta); enrichErr != nil {
			log.Warn().Err(enrichErr).Str("messageId", msg.ID).Msg("failed to record delivery error")
		}
		return model.DeliveryDispatchFailed, err.Error()
	}

	return model.DeliveryDelivered, ""
}

// resolveConnection prefers the conversation's pinned connection and falls
// back to the tenant's current connected channel, pinning it on first use.
func (s *SendService) resolveConnection(ctx context.Context, conv *model.Conversation) (*model.Connection, error) {
	if conv.ConnectionID != nil {
		return s.connRepo.FindByID(ctx, *conv.ConnectionID)
	}

	conn, err := s.connRepo.FindConnectedByTenant(ctx, conv.TenantID)
	if err != nil || conn == nil {
		return conn, err
	}

	if err := s.convRepo.SetConnection(ctx, conv.ID, conn.ID); err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to pin connection")
	}
	return conn, nil
}

func (s *SendService) publish(ctx context.Context, tenantID string, event sse.Event) {
	if err := s.publisher.Publish(ctx, tenantID, event); err != nil {
		log.Warn().Err(err).Str("eventType", event.Type).Msg("failed to publish bus event")
	}
}
