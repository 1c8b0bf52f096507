package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/zapdesk/chatsync-server/internal/errors"
	"github.com/zapdesk/chatsync-server/internal/middleware"
	"github.com/zapdesk/chatsync-server/internal/service"
)

type MessageHandler struct {
	convService *service.ConversationService
}

func NewMessageHandler(convService *service.ConversationService) *MessageHandler {
	return &MessageHandler{convService: convService}
}

func (h *MessageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Delete("/{id}", h.Delete)

	return r
}

// DELETE /v1/messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		OperatorID string `json:"operatorId"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
	}
	if req.OperatorID == "" {
		writeError(w, apperrors.MissingRequired("operatorId"))
		return
	}

	if err := h.convService.DeleteMessage(r.Context(), chi.URLParam(r, "id"), req.OperatorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
