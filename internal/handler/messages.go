package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pairlink/chat-backend/internal/middleware"
	"github.com/pairlink/chat-backend/internal/service"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// MessageHandler handles message listing endpoints.
type MessageHandler struct {
	service *service.MessageService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset := parsePage(r, 50)

	resp, err := h.service.List(ctx, userID, conversationID, limit, offset)
	if err != nil {
		writeServiceError(w, err, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
