package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pairlink/chat-backend/internal/middleware"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/service"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// PartnerHandler handles partner request endpoints.
type PartnerHandler struct {
	service *service.PartnerService
	logger  *logger.Logger
}

// NewPartnerHandler creates a new partner handler.
func NewPartnerHandler(svc *service.PartnerService, log *logger.Logger) *PartnerHandler {
	return &PartnerHandler{
		service: svc,
		logger:  log,
	}
}

// CreateRequest handles POST /api/v1/partner/requests
func (h *PartnerHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var body model.PartnerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(body.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(body.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.service.CreateRequest(ctx, userID, body.ConversationID, body.Message)
	if err != nil {
		writeServiceError(w, err, "failed to create partner request")
		return
	}

	writeJSON(w, http.StatusCreated, model.PartnerRequestResponse{
		Success:   true,
		RequestID: req.ID,
	})
}

// Pending handles GET /api/v1/partner/pending
func (h *PartnerHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit, _ := parsePage(r, 50)

	resp, err := h.service.Pending(ctx, userID, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list pending requests")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkDelivered handles POST /api/v1/partner/requests/:id/delivered
func (h *PartnerHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.MarkDelivered(ctx, userID, requestID); err != nil {
		writeServiceError(w, err, "failed to mark request delivered")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Accept handles POST /api/v1/partner/requests/:id/accept
func (h *PartnerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	requestID := chi.URLParam(r, "id")

	if err := middleware.ValidateRequestID(requestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Accept(ctx, userID, requestID)
	if err != nil {
		writeServiceError(w, err, "failed to accept request")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/partner/send
func (h *PartnerHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var body model.PartnerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateConversationID(body.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(body.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivered, requestID, err := h.service.SendToPartner(ctx, userID, body.ConversationID, body.Message)
	if err != nil {
		writeServiceError(w, err, "failed to send to partner")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"delivered":  delivered,
		"request_id": requestID,
	})
}
