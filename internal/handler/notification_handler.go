package handler

import (
	"context"
	"net/http"

	"vendpay/internal/middleware"
	"vendpay/internal/models"

	"github.com/gin-gonic/gin"
)

type NotificationLister interface {
	List(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint) error
}

type FCMTokenStore interface {
	UpdateFCMToken(ctx context.Context, userID uint, token string) error
}

type NotificationHandler struct {
	notifications NotificationLister
	tokens        FCMTokenStore
}

func NewNotificationHandler(notifications NotificationLister, tokens FCMTokenStore) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, tokens: tokens}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.notifications.List(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterFCMToken stores the device token push notifications are sent to.
// POST /me/fcm-token
func (h *NotificationHandler) RegisterFCMToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.tokens.UpdateFCMToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
