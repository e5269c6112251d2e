package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campushq/portal-api/internal/service"
	appErrors "github.com/campushq/portal-api/pkg/errors"
	"github.com/campushq/portal-api/pkg/response"
)

// NotificationHandler exposes broadcast and feed endpoints.
type NotificationHandler struct {
	notifications *service.NotificationService
	metrics       *service.MetricsService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(notifications *service.NotificationService, metrics *service.MetricsService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, metrics: metrics}
}

// Broadcast godoc
// @Summary Fan a message out to a student, a course roster or all students
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body service.BroadcastRequest true "Broadcast payload"
// @Success 201 {object} response.Envelope
// @Router /notifications/broadcast [post]
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req service.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.notifications.Broadcast(c.Request.Context(), sessionFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveBroadcast(result.Recipients)
	}
	response.Created(c, result)
}

// List godoc
// @Summary List the caller's notification feed with unread count
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feed, err := h.notifications.ListFor(c.Request.Context(), session, session.Identity.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feed.Items, map[string]interface{}{"unread_count": feed.UnreadCount})
}

// MarkRead godoc
// @Summary Mark a delivery as read (idempotent)
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery id"
// @Success 204
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), sessionFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
