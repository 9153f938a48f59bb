package handler

import (
	"context"
	"net/http"

	"vendpay/internal/middleware"
	"vendpay/internal/models"

	"github.com/gin-gonic/gin"
)

type ReferralService interface {
	MyCode(ctx context.Context, userID uint) (*models.ReferralCode, error)
	ListReferrals(ctx context.Context, userID uint, limit, offset int) ([]models.Referral, error)
	ProcessReferralCode(ctx context.Context, code string, newUserID uint) (*models.Referral, error)
}

type ReferralHandler struct {
	svc ReferralService
}

func NewReferralHandler(svc ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

// GetMyReferralCode returns the authenticated user's referral code, creating one if it doesn't exist yet.
// GET /me/referral-code
func (h *ReferralHandler) GetMyReferralCode(c *gin.Context) {
	rc, err := h.svc.MyCode(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       rc.Code,
		"is_active":  rc.IsActive,
		"created_at": rc.CreatedAt,
	})
}

// GET /me/referrals
func (h *ReferralHandler) GetMyReferrals(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.svc.ListReferrals(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": list, "total": len(list)})
}

// Redeem links the caller to the owner of code and credits both with bonus points.
// POST /referrals/redeem
func (h *ReferralHandler) Redeem(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := h.svc.ProcessReferralCode(c.Request.Context(), req.Code, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"referral": ref})
}
