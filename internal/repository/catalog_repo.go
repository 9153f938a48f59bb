package repository

import (
	"context"

	"vendpay/internal/models"

	"gorm.io/gorm"
)

// ProductRepository is the read side of the catalog used for pricing and point multipliers.
type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var list []models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error
	return list, wrap("product get by ids", err)
}

type CartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) ListItems(ctx context.Context, userID uint) ([]models.CartItem, error) {
	var list []models.CartItem
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&list).Error
	return list, wrap("cart list", err)
}

func (r *CartRepository) EmptyCart(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.CartItem{}).Error
	return wrap("cart empty", err)
}

type MachineRepository struct {
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// GetName returns the machine's name, or "" when it does not exist.
func (r *MachineRepository) GetName(ctx context.Context, id uint) (string, error) {
	var m models.Machine
	err := r.db.WithContext(ctx).Select("id", "name").First(&m, id).Error
	if notFound(err) {
		return "", nil
	}
	if err != nil {
		return "", wrap("machine get", err)
	}
	return m.Name, nil
}
