package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/middleware"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/service"
)

type ConversationHandler struct {
	convService    *service.ConversationService
	handoffService *service.HandoffService
	sendService    *service.SendService
}

func NewConversationHandler(
	convService *service.ConversationService,
	handoffService *service.HandoffService,
	sendService *service.SendService,
) *ConversationHandler {
	return &ConversationHandler{
		convService:    convService,
		handoffService: handoffService,
		sendService:    sendService,
	}
}

func (h *ConversationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/messages", h.Messages)
	r.Post("/{id}/messages", h.Send)
	r.Post("/{id}/agent-messages", h.SendAsAgent)
	r.Post("/{id}/automation/toggle", h.ToggleAutomation)
	r.Post("/{id}/transfer/operator", h.TransferToOperator)
	r.Post("/{id}/transfer/agent", h.TransferToAgent)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/reopen", h.Reopen)
	r.Post("/{id}/read", h.MarkRead)
	r.Post("/{id}/archive", h.Archive)

	return r
}

// scoped loads a conversation and checks it belongs to the calling tenant.
// Cross-tenant IDs answer 404, same as unknown IDs, so existence leaks
// nothing.
func (h *ConversationHandler) scoped(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return nil, false
	}

	conv, err := h.convService.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if conv == nil || conv.TenantID != tenant.ID {
		writeError(w, apperrors.NotFound("Conversation"))
		return nil, false
	}
	return conv, true
}

// GET /v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	pagination := ParsePagination(r)
	includeArchived := r.URL.Query().Get("archived") == "true"

	convs, err := h.convService.ListByTenant(r.Context(), tenant.ID, includeArchived, pagination.Limit, pagination.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	})
}

// GET /v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GET /v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	pagination := ParsePagination(r)
	msgs, total, err := h.convService.Messages(r.Context(), conv.ID, pagination.Limit, pagination.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    total,
	})
}

// POST /v1/conversations/{id}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	var req struct {
		OperatorID string  `json:"operatorId"`
		Body       string  `json:"body"`
		Kind       string  `json:"kind"`
		MediaURL   *string `json:"mediaUrl,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.OperatorID == "" {
		writeError(w, apperrors.MissingRequired("operatorId"))
		return
	}

	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.KindText
	}

	result, err := h.sendService.SendAsOperator(r.Context(), service.SendParams{
		ConversationID: conv.ID,
		OperatorID:     req.OperatorID,
		Body:           req.Body,
		Kind:           kind,
		MediaURL:       req.MediaURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The message is durable even when delivery failed, so the response is
	// 200 with the delivery outcome rather than an error status.
	resp := map[string]any{
		"message":  result.Message,
		"delivery": string(result.DeliveryOutcome),
	}
	if result.DeliveryError != "" {
		resp["deliveryError"] = result.DeliveryError
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /v1/conversations/{id}/agent-messages
func (h *ConversationHandler) SendAsAgent(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	var req struct {
		AgentID  string  `json:"agentId"`
		Body     string  `json:"body"`
		Kind     string  `json:"kind"`
		MediaURL *string `json:"mediaUrl,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.AgentID == "" {
		writeError(w, apperrors.MissingRequired("agentId"))
		return
	}

	result, err := h.sendService.SendAsAgent(r.Context(), conv.ID, req.AgentID, req.Body, model.MessageKind(req.Kind), req.MediaURL)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"message":  result.Message,
		"delivery": string(result.DeliveryOutcome),
	}
	if result.DeliveryError != "" {
		resp["deliveryError"] = result.DeliveryError
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /v1/conversations/{id}/automation/toggle
func (h *ConversationHandler) ToggleAutomation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	req, ok := decodeActor(w, r)
	if !ok {
		return
	}

	updated, err := h.handoffService.ToggleAutomation(r.Context(), conv.ID, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/conversations/{id}/transfer/operator
func (h *ConversationHandler) TransferToOperator(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	var req struct {
		OperatorID       string `json:"operatorId"`
		ActingOperatorID string `json:"actingOperatorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.OperatorID == "" {
		writeError(w, apperrors.MissingRequired("operatorId"))
		return
	}
	if req.ActingOperatorID == "" {
		req.ActingOperatorID = req.OperatorID
	}

	updated, err := h.handoffService.TransferToOperator(r.Context(), conv.ID, req.OperatorID, req.ActingOperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/conversations/{id}/transfer/agent
func (h *ConversationHandler) TransferToAgent(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	var req struct {
		AgentID    string `json:"agentId"`
		OperatorID string `json:"operatorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.AgentID == "" {
		writeError(w, apperrors.MissingRequired("agentId"))
		return
	}

	updated, err := h.handoffService.TransferToAgent(r.Context(), conv.ID, req.AgentID, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/conversations/{id}/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	req, ok := decodeActor(w, r)
	if !ok {
		return
	}

	updated, err := h.handoffService.Close(r.Context(), conv.ID, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/conversations/{id}/reopen
func (h *ConversationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	req, ok := decodeActor(w, r)
	if !ok {
		return
	}

	updated, err := h.handoffService.Reopen(r.Context(), conv.ID, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	if err := h.convService.MarkRead(r.Context(), conv.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// POST /v1/conversations/{id}/archive
func (h *ConversationHandler) Archive(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.scoped(w, r)
	if !ok {
		return
	}

	var req struct {
		OperatorID string `json:"operatorId"`
		Archived   *bool  `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}

	if err := h.convService.SetArchived(r.Context(), conv.ID, req.OperatorID, archived); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

type actorRequest struct {
	OperatorID string `json:"operatorId"`
}

func decodeActor(w http.ResponseWriter, r *http.Request) (actorRequest, bool) {
	var req actorRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Debug().Err(err).Msg("invalid actor request body")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return req, false
		}
	}
	return req, true
}
