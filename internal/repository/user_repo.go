package repository

import (
	"context"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return wrap("user create", r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if notFound(err) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, wrap("user get", err)
	}
	return &u, nil
}

// SetGatewayCustomerID stores the id only if none is set yet and returns the id that ends
// up on the row, so two racing first charges converge on one customer.
func (r *UserRepository) SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) (string, error) {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND gateway_customer_id IS NULL", userID).
		Update("gateway_customer_id", customerID).Error
	if err != nil {
		return "", wrap("user set gateway customer", err)
	}
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.GatewayCustomerID == nil {
		return customerID, nil
	}
	return *u.GatewayCustomerID, nil
}

func (r *UserRepository) UpdateFCMToken(ctx context.Context, userID uint, token string) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("fcm_token", token).Error
	return wrap("user update fcm token", err)
}
