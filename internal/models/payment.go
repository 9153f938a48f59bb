package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment is one settlement attempt. Amount is the payable amount after redemption,
// never the gross cart value. ChargeID is the only key webhooks may use to find it.
type Payment struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	UserID         uint                `gorm:"not null;index" json:"user_id"`
	MachineID      *uint               `gorm:"index" json:"machine_id"`
	TransactionID  string              `gorm:"size:128;not null;index" json:"transaction_id"`
	PaymentMethod  string              `gorm:"size:10;not null" json:"payment_method"`
	Status         string              `gorm:"size:20;not null;index" json:"status"`
	Amount         decimal.Decimal     `gorm:"type:decimal(12,3);not null" json:"amount"`
	Currency       string              `gorm:"size:3;default:'KWD'" json:"currency"`
	ChargeID       *string             `gorm:"size:128;uniqueIndex" json:"charge_id"`
	EarnedPoints   *int64              `json:"earned_points"`
	RedeemedPoints *int64              `json:"redeemed_points"`
	RedeemedAmount decimal.NullDecimal `gorm:"type:decimal(12,3)" json:"redeemed_amount"`
	RefundStatus   string              `gorm:"size:20" json:"refund_status,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	DeletedAt      gorm.DeletedAt      `gorm:"index" json:"-"`

	Products []PaymentProduct `gorm:"foreignKey:PaymentID" json:"products,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

// PaymentProduct is one cart line attached to a payment. DispensedQuantity only moves
// forward and never exceeds Quantity.
type PaymentProduct struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	PaymentID         uint            `gorm:"not null;index" json:"payment_id"`
	ProductID         uint            `gorm:"not null;index" json:"product_id"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	DispensedQuantity int             `gorm:"not null;default:0" json:"dispensed_quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(12,3);not null;default:0" json:"unit_price"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (PaymentProduct) TableName() string {
	return "payment_products"
}

// DispenseState reports where the line sits in ordered -> partially -> fully dispensed.
func (pp *PaymentProduct) DispenseState() string {
	switch {
	case pp.DispensedQuantity <= 0:
		return "ordered"
	case pp.DispensedQuantity < pp.Quantity:
		return "partially_dispensed"
	default:
		return "fully_dispensed"
	}
}
