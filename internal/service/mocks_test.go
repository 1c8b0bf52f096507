package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/zapdesk/chatsync-server/internal/database"
	"github.com/zapdesk/chatsync-server/internal/gateway"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

type mockProcessedRepo struct {
	mock.Mock
}

func (m *mockProcessedRepo) TryClaim(ctx context.Context, tenantID, channelID, externalMessageID string) (repository.ClaimResult, error) {
	args := m.Called(ctx, tenantID, channelID, externalMessageID)
	return args.Get(0).(repository.ClaimResult), args.Error(1)
}

func (m *mockProcessedRepo) Release(ctx context.Context, tenantID, channelID, externalMessageID string) error {
	args := m.Called(ctx, tenantID, channelID, externalMessageID)
	return args.Error(0)
}

func (m *mockProcessedRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) ListByConversation(ctx context.Context, conversationID string, ascending bool) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, ascending)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) ListByConversationPaged(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageRepo) MarkRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *mockMessageRepo) SoftDelete(ctx context.Context, id string, deletedBy string) error {
	args := m.Called(ctx, id, deletedBy)
	return args.Error(0)
}

func (m *mockMessageRepo) EnrichMetadata(ctx context.Context, id string, metadata *model.Metadata) error {
	args := m.Called(ctx, id, metadata)
	return args.Error(0)
}

func (m *mockMessageRepo) WithTx(tx *sqlx.Tx) repository.MessageRepository {
	return m
}

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *mockConversationRepo) ListByTenant(ctx context.Context, tenantID string, includeArchived bool, limit, offset int) ([]model.Conversation, error) {
	args := m.Called(ctx, tenantID, includeArchived, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Conversation), args.Error(1)
}

func (m *mockConversationRepo) UpsertOnIngest(ctx context.Context, params model.UpsertOnIngestParams) (*model.Conversation, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *mockConversationRepo) SetLastMessage(ctx context.Context, id, snippet string, at time.Time) error {
	args := m.Called(ctx, id, snippet, at)
	return args.Error(0)
}

func (m *mockConversationRepo) SetStatus(ctx context.Context, id string, status model.ConversationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockConversationRepo) SetOwnership(ctx context.Context, params model.SetOwnershipParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockConversationRepo) SetOwnershipAndStatus(ctx context.Context, params model.SetOwnershipParams, status model.ConversationStatus) error {
	args := m.Called(ctx, params, status)
	return args.Error(0)
}

func (m *mockConversationRepo) SetConnection(ctx context.Context, id, connectionID string) error {
	args := m.Called(ctx, id, connectionID)
	return args.Error(0)
}

func (m *mockConversationRepo) ResetUnread(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockConversationRepo) MarkClosed(ctx context.Context, id string, memoryResetAt time.Time) error {
	args := m.Called(ctx, id, memoryResetAt)
	return args.Error(0)
}

func (m *mockConversationRepo) MarkReopened(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockConversationRepo) SetArchived(ctx context.Context, id string, archived bool) error {
	args := m.Called(ctx, id, archived)
	return args.Error(0)
}

func (m *mockConversationRepo) WithTx(tx *sqlx.Tx) repository.ConversationRepository {
	return m
}

// fakeTxRunner invokes the transaction body directly; the mocked repositories
// ignore the tx handle.
type fakeTxRunner struct {
	err error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type mockConnectionRepo struct {
	mock.Mock
}

func (m *mockConnectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) FindConnectedByTenant(ctx context.Context, tenantID string) (*model.Connection, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) ListConnected(ctx context.Context) ([]model.Connection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, connectionID string, req gateway.DispatchRequest) error {
	args := m.Called(ctx, connectionID, req)
	return args.Error(0)
}

// recordingPublisher captures published bus events without a broker.
type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, tenantID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
