package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

// EventPublisher pushes events onto the realtime bus. Publishing is a
// read-side concern: failures are logged, never propagated into the write
// path.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, event sse.Event) error
}

// IngestParams describes one externally-sourced message, regardless of
// whether the webhook push path or the polling fallback delivered it.
type IngestParams struct {
	TenantID          string
	ChannelID         string
	ExternalMessageID string
	ConversationID    string
	ContactID         string
	Direction         model.MessageDirection
	Kind              model.MessageKind
	Body              string
	MediaURL          *string
	FromOwnDevice     bool
	Timestamp         time.Time
}

type IngestResult struct {
	Outcome model.IngestOutcome
	Message *model.Message
}

// IngestService is the single ingestion path shared by the realtime webhook
// and the polling fetcher. The dedup claim makes the pair safe: whichever
// source arrives second sees AlreadyClaimed and writes nothing.
type IngestService struct {
	processedRepo repository.ProcessedEventRepository
	messageRepo   repository.MessageRepository
	convRepo      repository.ConversationRepository
	publisher     EventPublisher
}

func NewIngestService(
	processedRepo repository.ProcessedEventRepository,
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	publisher EventPublisher,
) *IngestService {
	return &IngestService{
		processedRepo: processedRepo,
		messageRepo:   messageRepo,
		convRepo:      convRepo,
		publisher:     publisher,
	}
}

func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.ExternalMessageID == "" {
		return nil, apperrors.MissingRequired("externalMessageId")
	}
	if params.ConversationID == "" {
		return nil, apperrors.MissingRequired("conversationId")
	}

	claim, err := s.processedRepo.TryClaim(ctx, params.TenantID, params.ChannelID, params.ExternalMessageID)
	if err != nil {
		return nil, err
	}
	if claim == repository.AlreadyClaimed {
		log.Debug().
			Str("tenantId", params.TenantID).
			Str("externalMessageId", params.ExternalMessageID).
			Msg("duplicate event skipped")
		return &IngestResult{Outcome: model.IngestDuplicate}, nil
	}

	createdAt := params.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	msg, err := s.messageRepo.Append(ctx, model.AppendMessageParams{
		ConversationID:       params.ConversationID,
		ContactID:            optional(params.ContactID),
		Body:                 params.Body,
		Kind:                 params.Kind,
		MediaURL:             params.MediaURL,
		Direction:            params.Direction,
		SentByExternalDevice: params.FromOwnDevice,
		CreatedAt:            createdAt,
	})
	if err != nil {
		s.releaseClaim(ctx, params)
		return nil, err
	}

	conv, err := s.convRepo.UpsertOnIngest(ctx, model.UpsertOnIngestParams{
		ConversationID:  params.ConversationID,
		TenantID:        params.TenantID,
		ContactID:       params.ContactID,
		Snippet:         msg.Snippet(),
		Timestamp:       createdAt,
		IncrementUnread: params.Direction == model.DirectionInbound,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, params.TenantID, sse.MessageInserted(msg))
	s.publish(ctx, params.TenantID, sse.ConversationUpserted(conv))

	log.Info().
		Str("messageId", msg.ID).
		Str("conversationId", params.ConversationID).
		Str("externalMessageId", params.ExternalMessageID).
		Str("direction", string(params.Direction)).
		Msg("message ingested")

	return &IngestResult{Outcome: model.IngestInserted, Message: msg}, nil
}

// releaseClaim frees the dedup claim when the ledger append failed, so the
// provider's redelivery gets a fresh attempt. Once the message row exists the
// claim must stand: releasing it would duplicate the row on redelivery.
func (s *IngestService) releaseClaim(ctx context.Context, params IngestParams) {
	if err := s.processedRepo.Release(ctx, params.TenantID, params.ChannelID, params.ExternalMessageID); err != nil {
		log.Warn().Err(err).
			Str("externalMessageId", params.ExternalMessageID).
			Msg("failed to release dedup claim")
	}
}

func (s *IngestService) publish(ctx context.Context, tenantID string, event sse.Event) {
	if err := s.publisher.Publish(ctx, tenantID, event); err != nil {
		log.Warn().Err(err).Str("eventType", event.Type).Msg("failed to publish bus event")
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
