package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"vendpay/internal/domain"
	"vendpay/internal/models"
	"vendpay/internal/repository"

	"github.com/gin-gonic/gin"
)

type AdminStore interface {
	GetDashboardStats(ctx context.Context) (*repository.DashboardStats, error)
	ListPayments(ctx context.Context, f repository.PaymentFilter, page, limit int) ([]models.Payment, int64, error)
	ListTransactions(ctx context.Context, txType string, page, limit int) ([]models.WalletTransaction, int64, error)
	ListReferrals(ctx context.Context, page, limit int) ([]models.Referral, int64, error)
	ListAuditLogs(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
	RevenueByDay(ctx context.Context, days int) ([]repository.RevenuePoint, error)
}

type SettingsStore interface {
	GetAll(ctx context.Context) ([]models.SystemSetting, error)
	Set(ctx context.Context, key, value string) error
}

// editableSettings are the keys ops may change; all hold non-negative point amounts.
var editableSettings = map[string]bool{
	domain.SettingReferralInviterPoints: true,
	domain.SettingReferralInvitedPoints: true,
}

type AdminHandler struct {
	admin    AdminStore
	settings SettingsStore
}

func NewAdminHandler(admin AdminStore, settings SettingsStore) *AdminHandler {
	return &AdminHandler{admin: admin, settings: settings}
}

// Dashboard handles GET /admin/dashboard.
func (h *AdminHandler) Dashboard(c *gin.Context) {
	stats, err := h.admin.GetDashboardStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListPayments handles GET /admin/payments?status=&method=&refund_status=.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.admin.ListPayments(c.Request.Context(), repository.PaymentFilter{
		Status:       c.Query("status"),
		Method:       c.Query("method"),
		RefundStatus: c.Query("refund_status"),
	}, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// PaymentAudit handles GET /admin/payments/:id/audit.
func (h *AdminHandler) PaymentAudit(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.admin.ListAuditLogs(c.Request.Context(), "payment", strconv.FormatUint(uint64(id), 10))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// ListTransactions handles GET /admin/transactions?type=credit|debit.
func (h *AdminHandler) ListTransactions(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.admin.ListTransactions(c.Request.Context(), c.Query("type"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// ListReferrals handles GET /admin/referrals.
func (h *AdminHandler) ListReferrals(c *gin.Context) {
	page, limit := parsePagination(c)
	list, total, err := h.admin.ListReferrals(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "page": page, "limit": limit})
}

// GetSettings handles GET /admin/settings.
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// UpdateSettings handles PUT /admin/settings. Every key is validated before any is written.
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req struct {
		Settings map[string]string `json:"settings" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for k, v := range req.Settings {
		if !editableSettings[k] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting: " + k})
			return
		}
		if n, err := strconv.ParseInt(v, 10, 64); err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be a non-negative integer", k)})
			return
		}
	}
	for k, v := range req.Settings {
		if err := h.settings.Set(c.Request.Context(), k, v); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Analytics handles GET /admin/analytics?days=30.
func (h *AdminHandler) Analytics(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 || days > 365 {
		days = 30
	}
	revenue, err := h.admin.RevenueByDay(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revenue": revenue, "days": days})
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
