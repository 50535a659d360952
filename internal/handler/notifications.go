package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pairlink/chat-backend/internal/middleware"
	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/service"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// NotificationHandler handles device token and check-in endpoints.
type NotificationHandler struct {
	tokens   store.DeviceTokens
	checkins *service.CheckinService
	logger   *logger.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(tokens store.DeviceTokens, checkins *service.CheckinService, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		tokens:   tokens,
		checkins: checkins,
		logger:   log,
	}
}

// RegisterToken handles POST /api/v1/notifications/register
func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateDeviceToken(req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.tokens.UpsertDeviceToken(ctx, &model.DeviceToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
		BundleID: req.BundleID,
	})
	if err != nil {
		writeServiceError(w, err, "failed to register token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UnregisterToken handles POST /api/v1/notifications/unregister
func (h *NotificationHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.UnregisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateDeviceToken(req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.tokens.DisableDeviceToken(ctx, req.Token); err != nil {
		writeServiceError(w, err, "failed to unregister token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetCheckin handles GET /api/v1/notifications/daily-checkins
func (h *NotificationHandler) GetCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pref, err := h.checkins.GetPreference(ctx, userID)
	if err != nil {
		writeServiceError(w, err, "failed to load check-in settings")
		return
	}

	writeJSON(w, http.StatusOK, pref)
}

// SetCheckin handles POST /api/v1/notifications/daily-checkins
func (h *NotificationHandler) SetCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.SetCheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pref, err := h.checkins.SetPreference(ctx, userID, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pref)
}
