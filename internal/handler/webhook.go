package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/service"
)

// WebhookRequest is the gateway's push payload for a single message event.
type WebhookRequest struct {
	TenantID          string    `json:"tenantId"`
	ChannelID         string    `json:"channelId"`
	ExternalMessageID string    `json:"externalMessageId"`
	ConversationID    string    `json:"conversationId"`
	ContactID         string    `json:"contactId"`
	Direction         string    `json:"direction"`
	Kind              string    `json:"kind"`
	Body              string    `json:"body"`
	MediaURL          *string   `json:"mediaUrl,omitempty"`
	FromOwnDevice     bool      `json:"fromOwnDevice"`
	Timestamp         time.Time `json:"timestamp"`
}

type WebhookHandler struct {
	ingestService *service.IngestService
}

func NewWebhookHandler(ingestService *service.IngestService) *WebhookHandler {
	return &WebhookHandler{ingestService: ingestService}
}

// Webhook accepts one message event from the channel gateway. The gateway
// retries on non-2xx, so duplicates are expected here and answered 200 with
// outcome "duplicate" rather than an error.
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid webhook request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	direction := model.MessageDirection(req.Direction)
	if direction != model.DirectionInbound && direction != model.DirectionOutbound {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid direction"})
		return
	}

	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.KindText
	}

	result, err := h.ingestService.Ingest(r.Context(), service.IngestParams{
		TenantID:          req.TenantID,
		ChannelID:         req.ChannelID,
		ExternalMessageID: req.ExternalMessageID,
		ConversationID:    req.ConversationID,
		ContactID:         req.ContactID,
		Direction:         direction,
		Kind:              kind,
		Body:              req.Body,
		MediaURL:          req.MediaURL,
		FromOwnDevice:     req.FromOwnDevice,
		Timestamp:         req.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).
			Str("externalMessageId", req.ExternalMessageID).
			Msg("webhook ingestion failed")
		writeError(w, err)
		return
	}

	resp := map[string]any{"outcome": string(result.Outcome)}
	if result.Message != nil {
		resp["messageId"] = result.Message.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
