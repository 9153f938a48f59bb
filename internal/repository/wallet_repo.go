package repository

import (
	"context"
	"fmt"
	"time"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInsufficientBalance = domain.ErrInsufficientBalance

type WalletRepository struct {
	db       *gorm.DB
	currency string
}

func NewWalletRepository(db *gorm.DB, currency string) *WalletRepository {
	return &WalletRepository{db: db, currency: currency}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreate returns the user's wallet, creating an empty one on first use.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID uint) (*models.Wallet, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, wrap("wallet get", err)
	}
	w, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, wrap("wallet get", err)
	}
	return w, nil
}

func (r *WalletRepository) ensure(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.Wallet{UserID: userID, Balance: decimal.Zero, Currency: r.currency}).Error
}

// Increment adds amount to the balance in a single upsert, creating the wallet if needed.
func (r *WalletRepository) Increment(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: wallet increment must be positive", domain.ErrInvalidRequest)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		}),
	}).Create(&models.Wallet{UserID: userID, Balance: amount, Currency: r.currency}).Error
	if err != nil {
		return nil, wrap("wallet increment", err)
	}
	w, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, wrap("wallet increment", err)
	}
	return w, nil
}

// Decrement subtracts amount only if the balance covers it. The guard is part of the same
// UPDATE statement, so concurrent debits cannot both pass it.
func (r *WalletRepository) Decrement(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: wallet decrement must be positive", domain.ErrInvalidRequest)
	}
	if err := r.ensure(ctx, userID); err != nil {
		return nil, wrap("wallet decrement", err)
	}
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, wrap("wallet decrement", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}
	w, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, wrap("wallet decrement", err)
	}
	if w.Balance.IsNegative() {
		return nil, ErrInsufficientBalance
	}
	return w, nil
}

// RecordTransaction appends a history row. It does not touch the balance.
func (r *WalletRepository) RecordTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	return wrap("wallet record transaction", r.db.WithContext(ctx).Create(tx).Error)
}

func (r *WalletRepository) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []models.WalletTransaction
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, wrap("wallet list transactions", err)
}
