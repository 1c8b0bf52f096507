package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

func sendFixtures() (*model.Conversation, *model.Connection) {
	connID := "conn-1"
	conv := &model.Conversation{
		ID:               "conv-1",
		TenantID:         "tenant-1",
		ContactID:        "contact-1",
		ConnectionID:     &connID,
		AutomationActive: true,
		Status:           model.StatusActiveService,
	}
	conn := &model.Connection{ID: connID, TenantID: "tenant-1", Status: model.ConnectionConnected}
	return conv, conn
}

func TestSendAsOperator(t *testing.T) {
	ctx := context.Background()

	t.Run("persists, flips ownership and delivers", func(t *testing.T) {
		conv, conn := sendFixtures()
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)

		msg := &model.Message{ID: "msg-1", ConversationID: "conv-1", Body: "hi there", Kind: model.KindText, Direction: model.DirectionOutbound}
		messageRepo.On("Append", ctx, mock.MatchedBy(func(p model.AppendMessageParams) bool {
			return p.Direction == model.DirectionOutbound &&
				p.OperatorID != nil && *p.OperatorID == "op-1"
		})).Return(msg, nil)

		convRepo.On("SetOwnershipAndStatus", ctx, mock.MatchedBy(func(p model.SetOwnershipParams) bool {
			return !p.AutomationActive &&
				p.AssignedOperatorID != nil && *p.AssignedOperatorID == "op-1"
		}), model.StatusAwaitingCustomer).Return(nil)
		convRepo.On("SetLastMessage", ctx, "conv-1", "hi there", mock.Anything).Return(nil)

		connRepo.On("FindByID", ctx, "conn-1").Return(conn, nil)
		dispatcher.On("Dispatch", ctx, "conn-1", mock.Anything).Return(nil)

		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		result, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi there",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.DeliveryDelivered, result.DeliveryOutcome)
		assert.Empty(t, result.DeliveryError)
		assert.Equal(t, []string{sse.EventMessageInserted, sse.EventConversationUpsert}, publisher.types())
		convRepo.AssertExpectations(t)
		dispatcher.AssertExpectations(t)
	})

	t.Run("message survives dispatch failure with enriched metadata", func(t *testing.T) {
		conv, conn := sendFixtures()
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)
		msg := &model.Message{ID: "msg-1", Body: "hi", Kind: model.KindText}
		messageRepo.On("Append", ctx, mock.Anything).Return(msg, nil)
		convRepo.On("SetOwnershipAndStatus", ctx, mock.Anything, model.StatusAwaitingCustomer).Return(nil)
		convRepo.On("SetLastMessage", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		connRepo.On("FindByID", ctx, "conn-1").Return(conn, nil)
		dispatcher.On("Dispatch", ctx, "conn-1", mock.Anything).Return(errors.New("gateway timeout"))
		messageRepo.On("EnrichMetadata", ctx, "msg-1", mock.MatchedBy(func(m *model.Metadata) bool {
			return m.DeliveryError == "gateway timeout"
		})).Return(nil)

		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		result, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.DeliveryDispatchFailed, result.DeliveryOutcome)
		assert.Equal(t, "gateway timeout", result.DeliveryError)
		messageRepo.AssertExpectations(t)
	})

	t.Run("no connected channel reports not_connected", func(t *testing.T) {
		conv, _ := sendFixtures()
		conv.ConnectionID = nil
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)
		messageRepo.On("Append", ctx, mock.Anything).Return(&model.Message{ID: "msg-1", Body: "hi", Kind: model.KindText}, nil)
		convRepo.On("SetOwnershipAndStatus", ctx, mock.Anything, model.StatusAwaitingCustomer).Return(nil)
		convRepo.On("SetLastMessage", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		connRepo.On("FindConnectedByTenant", ctx, "tenant-1").Return(nil, nil)

		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		result, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.DeliveryNotConnected, result.DeliveryOutcome)
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("pins the tenant connection on first use", func(t *testing.T) {
		conv, conn := sendFixtures()
		conv.ConnectionID = nil
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)
		messageRepo.On("Append", ctx, mock.Anything).Return(&model.Message{ID: "msg-1", Body: "hi", Kind: model.KindText}, nil)
		convRepo.On("SetOwnershipAndStatus", ctx, mock.Anything, model.StatusAwaitingCustomer).Return(nil)
		convRepo.On("SetLastMessage", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		connRepo.On("FindConnectedByTenant", ctx, "tenant-1").Return(conn, nil)
		convRepo.On("SetConnection", ctx, "conv-1", "conn-1").Return(nil)
		dispatcher.On("Dispatch", ctx, "conn-1", mock.Anything).Return(nil)

		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		result, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi",
		})

		assert.NoError(t, err)
		assert.Equal(t, model.DeliveryDelivered, result.DeliveryOutcome)
		convRepo.AssertCalled(t, "SetConnection", ctx, "conv-1", "conn-1")
	})

	t.Run("ownership flip failure aborts the whole send", func(t *testing.T) {
		conv, _ := sendFixtures()
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)
		messageRepo.On("Append", ctx, mock.Anything).Return(&model.Message{ID: "msg-1", Body: "hi", Kind: model.KindText}, nil)
		convRepo.On("SetOwnershipAndStatus", ctx, mock.Anything, model.StatusAwaitingCustomer).Return(errors.New("deadlock detected"))

		// The append and the flip share one transaction: when the flip fails
		// the whole send rolls back, nothing is published and a retry starts
		// from a clean ledger instead of stacking a duplicate outbound row.
		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		_, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi",
		})

		assert.Error(t, err)
		assert.Empty(t, publisher.types())
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		convRepo.AssertNotCalled(t, "SetLastMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transaction begin failure touches nothing", func(t *testing.T) {
		conv, _ := sendFixtures()
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)

		svc := NewSendService(&fakeTxRunner{err: errors.New("connection refused")}, messageRepo, convRepo, new(mockConnectionRepo), new(mockDispatcher), &recordingPublisher{})
		_, err := svc.SendAsOperator(ctx, SendParams{
			ConversationID: "conv-1",
			OperatorID:     "op-1",
			Body:           "hi",
		})

		assert.Error(t, err)
		messageRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("empty body without media rejected", func(t *testing.T) {
		svc := NewSendService(&fakeTxRunner{}, new(mockMessageRepo), new(mockConversationRepo), new(mockConnectionRepo), new(mockDispatcher), &recordingPublisher{})

		_, err := svc.SendAsOperator(ctx, SendParams{ConversationID: "conv-1", OperatorID: "op-1"})

		appErr, ok := apperrors.AsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, appErr.Code)
	})

	t.Run("unknown conversation rejected", func(t *testing.T) {
		convRepo := new(mockConversationRepo)
		convRepo.On("FindByID", ctx, "nope").Return(nil, nil)

		svc := NewSendService(&fakeTxRunner{}, new(mockMessageRepo), convRepo, new(mockConnectionRepo), new(mockDispatcher), &recordingPublisher{})
		_, err := svc.SendAsOperator(ctx, SendParams{ConversationID: "nope", OperatorID: "op-1", Body: "hi"})

		appErr, ok := apperrors.AsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
	})
}

func TestSendAsAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("sends without touching ownership", func(t *testing.T) {
		conv, conn := sendFixtures()
		messageRepo := new(mockMessageRepo)
		convRepo := new(mockConversationRepo)
		connRepo := new(mockConnectionRepo)
		dispatcher := new(mockDispatcher)
		publisher := &recordingPublisher{}

		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)
		messageRepo.On("Append", ctx, mock.MatchedBy(func(p model.AppendMessageParams) bool {
			return p.SentByAutomation && p.Direction == model.DirectionOutbound
		})).Return(&model.Message{ID: "msg-1", Body: "auto reply", Kind: model.KindText}, nil)
		convRepo.On("SetLastMessage", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		connRepo.On("FindByID", ctx, "conn-1").Return(conn, nil)
		dispatcher.On("Dispatch", ctx, "conn-1", mock.Anything).Return(nil)

		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, connRepo, dispatcher, publisher)
		result, err := svc.SendAsAgent(ctx, "conv-1", "agent-1", "auto reply", model.KindText, nil)

		assert.NoError(t, err)
		assert.Equal(t, model.DeliveryDelivered, result.DeliveryOutcome)
		convRepo.AssertNotCalled(t, "SetOwnership", mock.Anything, mock.Anything)
		convRepo.AssertNotCalled(t, "SetOwnershipAndStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected while a human owns the conversation", func(t *testing.T) {
		conv, _ := sendFixtures()
		conv.AutomationActive = false
		convRepo := new(mockConversationRepo)
		convRepo.On("FindByID", ctx, "conv-1").Return(conv, nil)

		messageRepo := new(mockMessageRepo)
		svc := NewSendService(&fakeTxRunner{}, messageRepo, convRepo, new(mockConnectionRepo), new(mockDispatcher), &recordingPublisher{})
		_, err := svc.SendAsAgent(ctx, "conv-1", "agent-1", "late reply", model.KindText, nil)

		appErr, ok := apperrors.AsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
		messageRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})
}
