package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/audit"
	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

// HandoffService governs which actor owns response responsibility for a
// conversation. Every transition is a total function of the current state: a
// "wrong state" is a no-op, never an error, so retries are harmless.
//
// The audit System message that records a transfer is best-effort-linked to
// the ownership change: a failed audit write logs an error but never blocks
// or reverts the transition.
type HandoffService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	publisher   EventPublisher
}

func NewHandoffService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	publisher EventPublisher,
) *HandoffService {
	return &HandoffService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
	}
}

// ToggleAutomation flips the automation switch. Turning automation on
// releases the operator; turning it off assigns nobody — the next human send
// or transfer decides who takes over. The agent reference is kept for
// history either way.
func (s *HandoffService) ToggleAutomation(ctx context.Context, conversationID, actorID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	active := !conv.AutomationActive
	if err := s.convRepo.SetOwnership(ctx, model.SetOwnershipParams{
		ConversationID:     conversationID,
		AutomationActive:   active,
		AutomationAgentID:  conv.AutomationAgentID,
		AssignedOperatorID: nil,
	}); err != nil {
		return nil, err
	}

	conv.AutomationActive = active
	conv.AssignedOperatorID = nil
	s.finishTransition(ctx, conv, audit.EventAutomationToggled, actorID, map[string]interface{}{
		"automationActive": active,
	})
	return conv, nil
}

// TransferToOperator hands the conversation to a specific human operator.
func (s *HandoffService) TransferToOperator(ctx context.Context, conversationID, operatorID, actingOperatorID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	if err := s.convRepo.SetOwnership(ctx, model.SetOwnershipParams{
		ConversationID:     conversationID,
		AutomationActive:   false,
		AutomationAgentID:  conv.AutomationAgentID,
		AssignedOperatorID: &operatorID,
	}); err != nil {
		return nil, err
	}

	s.appendSystemMessage(ctx, conversationID, fmt.Sprintf("Conversation transferred to operator %s", operatorID))

	conv.AutomationActive = false
	conv.AssignedOperatorID = &operatorID
	s.finishTransition(ctx, conv, audit.EventTransferredToOperator, actingOperatorID, map[string]interface{}{
		"operatorId": operatorID,
	})
	return conv, nil
}

// TransferToAgent hands the conversation back to an automation agent.
func (s *HandoffService) TransferToAgent(ctx context.Context, conversationID, agentID, actingOperatorID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	if err := s.convRepo.SetOwnership(ctx, model.SetOwnershipParams{
		ConversationID:     conversationID,
		AutomationActive:   true,
		AutomationAgentID:  &agentID,
		AssignedOperatorID: nil,
	}); err != nil {
		return nil, err
	}

	s.appendSystemMessage(ctx, conversationID, fmt.Sprintf("Conversation transferred to agent %s", agentID))

	conv.AutomationActive = true
	conv.AutomationAgentID = &agentID
	conv.AssignedOperatorID = nil
	s.finishTransition(ctx, conv, audit.EventTransferredToAgent, actingOperatorID, map[string]interface{}{
		"agentId": agentID,
	})
	return conv, nil
}

// Close moves the conversation to the terminal status, deactivates automation
// and stamps the memory reset boundary. Closing twice moves the boundary
// forward; it never errors.
func (s *HandoffService) Close(ctx context.Context, conversationID, actorID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	resetAt := time.Now().UTC()
	if err := s.convRepo.MarkClosed(ctx, conversationID, resetAt); err != nil {
		return nil, err
	}

	conv.Status = model.StatusClosed
	conv.AutomationActive = false
	conv.MemoryResetAt = &resetAt
	s.finishTransition(ctx, conv, audit.EventConversationClosed, actorID, nil)
	return conv, nil
}

// Reopen restores active service. Prior ownership is not restored: the
// conversation starts unowned and memory_reset_at keeps marking where the
// automation context restarts.
func (s *HandoffService) Reopen(ctx context.Context, conversationID, actorID string) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}

	if err := s.convRepo.MarkReopened(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.convRepo.SetOwnership(ctx, model.SetOwnershipParams{
		ConversationID:     conversationID,
		AutomationActive:   false,
		AutomationAgentID:  conv.AutomationAgentID,
		AssignedOperatorID: nil,
	}); err != nil {
		return nil, err
	}

	conv.Status = model.StatusActiveService
	conv.AutomationActive = false
	conv.AssignedOperatorID = nil
	s.finishTransition(ctx, conv, audit.EventConversationReopened, actorID, nil)
	return conv, nil
}

// appendSystemMessage writes the internal audit message for a transfer.
// Best effort: the ownership change already happened and stands.
func (s *HandoffService) appendSystemMessage(ctx context.Context, conversationID, body string) {
	_, err := s.messageRepo.Append(ctx, model.AppendMessageParams{
		ConversationID: conversationID,
		Body:           body,
		Kind:           model.KindSystem,
		Metadata:       model.InternalMetadata(),
		Direction:      model.DirectionOutbound,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("conversationId", conversationID).Msg("failed to write transfer audit message")
	}
}

func (s *HandoffService) finishTransition(ctx context.Context, conv *model.Conversation, event audit.EventType, actorID string, details map[string]interface{}) {
	audit.Log(ctx, audit.Event{
		Type:           event,
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ActorID:        actorID,
		Details:        details,
	})

	if err := s.publisher.Publish(ctx, conv.TenantID, sse.ConversationUpserted(conv)); err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to publish ownership change")
	}
}
