package handler

import (
	"context"
	"net/http"

	"vendpay/internal/loyalty"
	"vendpay/internal/middleware"
	"vendpay/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type ProfileReader interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

type PaymentHistory interface {
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Payment, error)
}

type MeHandler struct {
	users      ProfileReader
	wallets    WalletReader
	payments   PaymentHistory
	pointValue decimal.Decimal
}

func NewMeHandler(users ProfileReader, wallets WalletReader, payments PaymentHistory, pointValue decimal.Decimal) *MeHandler {
	return &MeHandler{users: users, wallets: wallets, payments: payments, pointValue: pointValue}
}

// GetProfile returns the current user with wallet balance and loyalty points in one call,
// which is what the app's home screen shows.
// GET /me
func (h *MeHandler) GetProfile(c *gin.Context) {
	userID := middleware.GetUserID(c)
	u, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	w, err := h.wallets.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	pointsValue := loyalty.Round(decimal.NewFromInt(u.LoyaltyPoints).Mul(h.pointValue))
	c.JSON(http.StatusOK, gin.H{
		"user":           u,
		"balance":        w.Balance.StringFixed(loyalty.CurrencyPlaces),
		"currency":       w.Currency,
		"points":         u.LoyaltyPoints,
		"points_value":   pointsValue.StringFixed(loyalty.CurrencyPlaces),
		"has_push_token": u.FCMToken != "",
	})
}

// GET /me/payments
func (h *MeHandler) ListPayments(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.payments.ListByUser(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}
