package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// generateReferralCode returns an 8-character hex referral code.
func generateReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetOrCreateCode returns the existing referral code for a user, or creates a new unique one.
func (r *ReferralRepository) GetOrCreateCode(ctx context.Context, userID uint) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rc).Error; err == nil {
		return &rc, nil
	}
	for i := 0; i < 10; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		rc = models.ReferralCode{UserID: userID, Code: code, IsActive: true}
		if err := r.db.WithContext(ctx).Create(&rc).Error; err == nil {
			return &rc, nil
		}
		// Collision: retry with new code
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after retries")
}

// GetByCode returns the active referral code matching code, or nil if there is none.
func (r *ReferralRepository) GetByCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := r.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&rc).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("referral get by code", err)
	}
	return &rc, nil
}

// CreateReferral persists a new referral relationship. The unique index on
// referred_user_id rejects a second referral for the same user; that surfaces as
// ErrInvalidRequest, the same as the pre-check in the service.
func (r *ReferralRepository) CreateReferral(ctx context.Context, referral *models.Referral) error {
	err := r.db.WithContext(ctx).Create(referral).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: already referred", domain.ErrInvalidRequest)
	}
	return wrap("referral create", err)
}

// GetByReferredUserID returns the referral that brought userID in, or nil if there is none.
func (r *ReferralRepository) GetByReferredUserID(ctx context.Context, userID uint) (*models.Referral, error) {
	var ref models.Referral
	err := r.db.WithContext(ctx).Where("referred_user_id = ?", userID).First(&ref).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("referral get by referred", err)
	}
	return &ref, nil
}

func (r *ReferralRepository) ListByReferrerID(ctx context.Context, referrerID uint, limit, offset int) ([]models.Referral, error) {
	var list []models.Referral
	err := r.db.WithContext(ctx).Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, wrap("referral list", err)
}
