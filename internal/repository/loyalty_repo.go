package repository

import (
	"context"
	"errors"
	"fmt"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"gorm.io/gorm"
)

// LoyaltyRepository owns the points ledger and the cached users.loyalty_points aggregate.
// Every ledger insert moves the aggregate in the same transaction.
type LoyaltyRepository struct {
	db *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: db}
}

// Append inserts the entry and applies its signed points to the user's aggregate,
// returning the new balance.
func (r *LoyaltyRepository) Append(ctx context.Context, entry *models.LoyaltyEntry) (int64, error) {
	if entry.Points == 0 {
		return 0, fmt.Errorf("%w: zero-point loyalty entry", domain.ErrInvalidRequest)
	}
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		res := tx.Model(&models.User{}).Where("id = ?", entry.UserID).
			UpdateColumn("loyalty_points", gorm.Expr("loyalty_points + ?", entry.Points))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		var u models.User
		if err := tx.Select("id", "loyalty_points").First(&u, entry.UserID).Error; err != nil {
			return err
		}
		balance = u.LoyaltyPoints
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return 0, err
		}
		return 0, wrap("loyalty append", err)
	}
	return balance, nil
}

// Balance returns the cached aggregate.
func (r *LoyaltyRepository) Balance(ctx context.Context, userID uint) (int64, error) {
	var u models.User
	err := r.db.WithContext(ctx).Select("id", "loyalty_points").First(&u, userID).Error
	if notFound(err) {
		return 0, domain.ErrUserNotFound
	}
	if err != nil {
		return 0, wrap("loyalty balance", err)
	}
	return u.LoyaltyPoints, nil
}

// LedgerBalance sums the ledger directly.
func (r *LoyaltyRepository) LedgerBalance(ctx context.Context, userID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.LoyaltyEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(points), 0)").Scan(&sum).Error
	return sum, wrap("loyalty ledger balance", err)
}

// RebuildBalance resets the cached aggregate to the ledger sum.
func (r *LoyaltyRepository) RebuildBalance(ctx context.Context, userID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.LoyaltyEntry{}).Where("user_id = ?", userID).
			Select("COALESCE(SUM(points), 0)").Scan(&sum).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("loyalty_points", sum).Error
	})
	return sum, wrap("loyalty rebuild", err)
}

func (r *LoyaltyRepository) ListEntries(ctx context.Context, userID uint, limit, offset int) ([]models.LoyaltyEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []models.LoyaltyEntry
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, wrap("loyalty list entries", err)
}
