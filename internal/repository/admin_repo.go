package repository

import (
	"context"
	"time"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// settledStatuses are the payment statuses that count as money received for goods.
// Wallet top-ups (CREDIT) fund a balance and are excluded.
var settledStatuses = []string{domain.StatusPaid, domain.StatusCaptured, domain.StatusDebit}

type DashboardStats struct {
	TotalUsers        int64           `json:"total_users"`
	TotalPayments     int64           `json:"total_payments"`
	SettledRevenue    decimal.Decimal `json:"settled_revenue"`
	PendingRefunds    int64           `json:"pending_refunds"`
	WalletFloat       decimal.Decimal `json:"wallet_float"`
	PointsOutstanding int64           `json:"points_outstanding"`
	TotalReferrals    int64           `json:"total_referrals"`
}

type RevenuePoint struct {
	Date   string          `json:"date"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentFilter narrows ListPayments; empty fields match everything.
type PaymentFilter struct {
	Status       string
	Method       string
	RefundStatus string
}

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	db := r.db.WithContext(ctx)
	var s DashboardStats
	if err := db.Model(&models.User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, wrap("dashboard users", err)
	}
	if err := db.Model(&models.Payment{}).Count(&s.TotalPayments).Error; err != nil {
		return nil, wrap("dashboard payments", err)
	}
	if err := db.Model(&models.Payment{}).Where("refund_status = ?", domain.RefundStatusPending).Count(&s.PendingRefunds).Error; err != nil {
		return nil, wrap("dashboard refunds", err)
	}
	if err := db.Model(&models.Referral{}).Count(&s.TotalReferrals).Error; err != nil {
		return nil, wrap("dashboard referrals", err)
	}

	var rev struct{ Total decimal.NullDecimal }
	if err := db.Model(&models.Payment{}).Select("COALESCE(SUM(amount), 0) AS total").
		Where("status IN ?", settledStatuses).Scan(&rev).Error; err != nil {
		return nil, wrap("dashboard revenue", err)
	}
	s.SettledRevenue = rev.Total.Decimal

	var float struct{ Total decimal.NullDecimal }
	if err := db.Model(&models.Wallet{}).Select("COALESCE(SUM(balance), 0) AS total").Scan(&float).Error; err != nil {
		return nil, wrap("dashboard wallets", err)
	}
	s.WalletFloat = float.Total.Decimal

	var points struct{ Total int64 }
	if err := db.Model(&models.User{}).Select("COALESCE(SUM(loyalty_points), 0) AS total").Scan(&points).Error; err != nil {
		return nil, wrap("dashboard points", err)
	}
	s.PointsOutstanding = points.Total
	return &s, nil
}

// ListPayments returns payments newest first with their product lines.
func (r *AdminRepository) ListPayments(ctx context.Context, f PaymentFilter, page, limit int) ([]models.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		q = q.Where("payment_method = ?", f.Method)
	}
	if f.RefundStatus != "" {
		q = q.Where("refund_status = ?", f.RefundStatus)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap("admin payments count", err)
	}
	var list []models.Payment
	err := q.Preload("Products").Order("created_at DESC, id DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, wrap("admin payments", err)
}

// ListTransactions returns wallet transactions with optional type filter.
func (r *AdminRepository) ListTransactions(ctx context.Context, txType string, page, limit int) ([]models.WalletTransaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.WalletTransaction{})
	if txType != "" {
		q = q.Where("type = ?", txType)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap("admin transactions count", err)
	}
	var list []models.WalletTransaction
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, wrap("admin transactions", err)
}

func (r *AdminRepository) ListReferrals(ctx context.Context, page, limit int) ([]models.Referral, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Referral{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap("admin referrals count", err)
	}
	var list []models.Referral
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset((page - 1) * limit).Find(&list).Error
	return list, total, wrap("admin referrals", err)
}

// ListAuditLogs returns reconciliation audit rows for one resource, oldest first.
func (r *AdminRepository) ListAuditLogs(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	var list []models.AuditLog
	err := r.db.WithContext(ctx).Where("resource = ? AND resource_id = ?", resource, resourceID).
		Order("created_at ASC, id ASC").Find(&list).Error
	return list, wrap("admin audit logs", err)
}

// RevenueByDay sums settled payments per calendar day over the last days days.
func (r *AdminRepository) RevenueByDay(ctx context.Context, days int) ([]RevenuePoint, error) {
	since := time.Now().AddDate(0, 0, -days)
	var rows []struct {
		Date   string
		Count  int64
		Amount decimal.NullDecimal
	}
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("DATE(created_at) AS date, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("created_at >= ? AND status IN ?", since, settledStatuses).
		Group("DATE(created_at)").Order("date").Scan(&rows).Error
	if err != nil {
		return nil, wrap("admin revenue", err)
	}
	out := make([]RevenuePoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, RevenuePoint{Date: row.Date, Count: row.Count, Amount: row.Amount.Decimal})
	}
	return out, nil
}
