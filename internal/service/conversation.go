package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/audit"
	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
)

type ConversationService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
) *ConversationService {
	return &ConversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
	}
}

func (s *ConversationService) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return s.convRepo.FindByID(ctx, id)
}

func (s *ConversationService) ListByTenant(ctx context.Context, tenantID string, includeArchived bool, limit, offset int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.convRepo.ListByTenant(ctx, tenantID, includeArchived, limit, offset)
}

// Messages returns the ledger snapshot for one conversation in ledger order.
func (s *ConversationService) Messages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	msgs, err := s.messageRepo.ListByConversationPaged(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.messageRepo.CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// MarkRead is fired when a view opens a conversation: zeroes the unread
// counter and flags inbound messages as read. Idempotent.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID string) error {
	if err := s.convRepo.ResetUnread(ctx, conversationID); err != nil {
		return err
	}
	if err := s.messageRepo.MarkRead(ctx, conversationID); err != nil {
		log.Warn().Err(err).Str("conversationId", conversationID).Msg("failed to flag messages read")
	}
	return nil
}

func (s *ConversationService) SetArchived(ctx context.Context, conversationID, actorID string, archived bool) error {
	conv, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return apperrors.NotFound("Conversation")
	}

	if err := s.convRepo.SetArchived(ctx, conversationID, archived); err != nil {
		return err
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventConversationArchived,
		TenantID:       conv.TenantID,
		ConversationID: conversationID,
		ActorID:        actorID,
		Details:        map[string]interface{}{"archived": archived},
	})
	return nil
}

// DeleteMessage soft-deletes: the row stays in the ledger for audit.
func (s *ConversationService) DeleteMessage(ctx context.Context, messageID, operatorID string) error {
	msg, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.NotFound("Message")
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID, operatorID); err != nil {
		return err
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		ActorID:        operatorID,
		Details:        map[string]interface{}{"messageId": messageID},
	})
	return nil
}
