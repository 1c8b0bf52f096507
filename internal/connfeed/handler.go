package connfeed

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

// PollerControl is the poller manager surface the feed drives.
type PollerControl interface {
	Apply(conn *model.Connection)
}

// StatusHandler persists a status change, re-points the poller, and tells
// connected views about it.
type StatusHandler struct {
	connRepo  repository.ConnectionRepository
	poller    PollerControl
	publisher interface {
		Publish(ctx context.Context, tenantID string, event sse.Event) error
	}
}

func NewStatusHandler(
	connRepo repository.ConnectionRepository,
	poller PollerControl,
	publisher interface {
		Publish(ctx context.Context, tenantID string, event sse.Event) error
	},
) *StatusHandler {
	return &StatusHandler{
		connRepo:  connRepo,
		poller:    poller,
		publisher: publisher,
	}
}

func (h *StatusHandler) HandleStatus(ctx context.Context, update StatusUpdate) error {
	if err := h.connRepo.UpdateStatus(ctx, update.ConnectionID, update.Status); err != nil {
		return err
	}

	conn, err := h.connRepo.FindByID(ctx, update.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		// The provisioning subsystem may announce connections this engine
		// has never seen; there is nothing to poll yet.
		log.Debug().Str("connectionId", update.ConnectionID).Msg("status for unknown connection")
		return nil
	}

	h.poller.Apply(conn)

	if err := h.publisher.Publish(ctx, conn.TenantID, sse.ConnectionStatus(conn.ID, conn.Status)); err != nil {
		log.Warn().Err(err).Str("connectionId", conn.ID).Msg("failed to publish connection status")
	}

	log.Info().
		Str("connectionId", conn.ID).
		Str("status", string(conn.Status)).
		Msg("connection status applied")

	return nil
}
