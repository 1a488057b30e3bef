package handler

import (
	"net/http"

	"portal/internal/middleware"
	"portal/internal/model"
	"portal/internal/service"
	"portal/pkg/response"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(notificationService service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleAdmin, model.RoleApprover, model.RoleRequester)

	notifications := router.Group("/api/notifications")
	{
		notifications.GET("", anyRole, h.ListNotifications)
		notifications.POST("/:id/seen", anyRole, h.MarkSeen)
	}
}

// ListNotifications derives the viewer's notifications from current request state
// @Summary      List notifications
// @Description  Recomputes the viewer's notifications from the request collection, newest first. Read state reflects the viewer's seen set.
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]model.Notification}
// @Router       /api/notifications [get]
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	notifications, err := h.notificationService.ListForViewer(c.Request.Context(), middleware.ActorID(c), middleware.ActorRole(c))
	if err != nil {
		c.JSON(response.FromError(err))
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, notifications))
}

// MarkSeen acknowledges a derived notification for the viewer
// @Summary      Mark notification seen
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Notification ID"
// @Success      200  {object}  response.Response
// @Router       /api/notifications/{id}/seen [post]
func (h *NotificationHandler) MarkSeen(c *gin.Context) {
	if err := h.notificationService.MarkSeen(c.Request.Context(), middleware.ActorID(c), c.Param("id")); err != nil {
		c.JSON(response.FromError(err))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Notification marked as seen"))
}
