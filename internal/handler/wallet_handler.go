package handler

import (
	"context"
	"net/http"

	"vendpay/internal/middleware"
	"vendpay/internal/models"

	"github.com/gin-gonic/gin"
)

type WalletReader interface {
	GetOrCreate(ctx context.Context, userID uint) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.WalletTransaction, error)
}

type WalletHandler struct {
	wallets WalletReader
}

func NewWalletHandler(wallets WalletReader) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// GetBalance returns the current user's wallet balance, creating an empty wallet on first use.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	w, err := h.wallets.GetOrCreate(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":  w.Balance.StringFixed(3),
		"currency": w.Currency,
	})
}

func (h *WalletHandler) GetTransactions(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.wallets.ListTransactions(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}
