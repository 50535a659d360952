package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pairlink/chat-backend/internal/middleware"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/service"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// ChatHandler handles the streaming chat endpoint.
type ChatHandler struct {
	service *service.MessageService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.MessageService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// Stream handles POST /api/v1/chat/stream. The response is an SSE
// stream; once the first byte is written all failures are reported as
// in-stream error frames rather than HTTP statuses.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	userName := middleware.GetUserName(ctx)

	var req model.ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.service.StreamReply(ctx, userID, userName, &req, w); err != nil {
		writeServiceError(w, err, "failed to start stream")
	}
}
