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

type LoyaltyLedger interface {
	Balance(ctx context.Context, userID uint) (int64, error)
	ListEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LoyaltyEntry, error)
	RebuildBalance(ctx context.Context, userID uint) (int64, error)
}

type RedemptionQuoter interface {
	CalculateRedemption(ctx context.Context, userID uint, requestedPoints, cartAmount decimal.Decimal, items []loyalty.CartLine) (*loyalty.Redemption, error)
}

type LoyaltyHandler struct {
	ledger     LoyaltyLedger
	quoter     RedemptionQuoter
	pointValue decimal.Decimal
}

func NewLoyaltyHandler(ledger LoyaltyLedger, quoter RedemptionQuoter, pointValue decimal.Decimal) *LoyaltyHandler {
	return &LoyaltyHandler{ledger: ledger, quoter: quoter, pointValue: pointValue}
}

// GET /loyalty
func (h *LoyaltyHandler) GetBalance(c *gin.Context) {
	points, err := h.ledger.Balance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"points": points,
		"value":  loyalty.Round(decimal.NewFromInt(points).Mul(h.pointValue)).StringFixed(loyalty.CurrencyPlaces),
	})
}

// GET /loyalty/entries
func (h *LoyaltyHandler) GetEntries(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.ledger.ListEntries(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

// Quote previews a redemption without touching the ledger.
// POST /loyalty/quote
func (h *LoyaltyHandler) Quote(c *gin.Context) {
	var req checkoutBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.quoter.CalculateRedemption(c.Request.Context(), middleware.GetUserID(c), req.PointsToRedeem, req.Amount, req.Products)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Rebuild resets the cached point balance to the ledger sum.
// POST /loyalty/rebuild
func (h *LoyaltyHandler) Rebuild(c *gin.Context) {
	points, err := h.ledger.RebuildBalance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}
