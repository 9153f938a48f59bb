package repository

import (
	"context"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists the payment and its product lines together.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
	return wrap("payment create", err)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Preload("Products.Product").First(&p, id).Error
	if notFound(err) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, wrap("payment get", err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Where("charge_id = ?", chargeID).First(&p).Error
	if notFound(err) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, wrap("payment get by charge", err)
	}
	return &p, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	var list []models.Payment
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, wrap("payment list", err)
}

// UpdateStatus sets status unless it already holds that value. The boolean reports whether
// a row changed, so replays are no-ops.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uint, status string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status <> ?", id, status).
		Update("status", status)
	if res.Error != nil {
		return false, wrap("payment update status", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *PaymentRepository) SetEarnedPoints(ctx context.Context, id uint, points int64) error {
	err := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Update("earned_points", points).Error
	return wrap("payment set earned points", err)
}

func (r *PaymentRepository) SetRedemption(ctx context.Context, id uint, points int64, amount decimal.Decimal) error {
	err := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"redeemed_points": points,
			"redeemed_amount": decimal.NewNullDecimal(amount),
		}).Error
	return wrap("payment set redemption", err)
}

func (r *PaymentRepository) SetRefundStatus(ctx context.Context, id uint, status string) error {
	err := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Update("refund_status", status).Error
	return wrap("payment set refund status", err)
}

func (r *PaymentRepository) ListProducts(ctx context.Context, paymentID uint) ([]models.PaymentProduct, error) {
	var list []models.PaymentProduct
	err := r.db.WithContext(ctx).Preload("Product").
		Where("payment_id = ?", paymentID).Order("id ASC").Find(&list).Error
	return list, wrap("payment list products", err)
}

// AdvanceDispensed raises a line's dispensed quantity to qty. The row only changes when qty
// is above the current count and within the ordered quantity.
func (r *PaymentRepository) AdvanceDispensed(ctx context.Context, lineID uint, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentProduct{}).
		Where("id = ? AND dispensed_quantity < ? AND quantity >= ?", lineID, qty, qty).
		Update("dispensed_quantity", qty)
	if res.Error != nil {
		return false, wrap("payment advance dispensed", res.Error)
	}
	return res.RowsAffected > 0, nil
}
