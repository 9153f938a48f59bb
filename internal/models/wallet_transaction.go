package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WalletTransaction mirrors wallet mutations for history. The wallets row is the source of
// truth for balance, not this table.
type WalletTransaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	PaymentID *uint           `gorm:"index" json:"payment_id"`
	Type      string          `gorm:"size:10;not null;index" json:"type"` // credit | debit
	Amount    decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"amount"`
	Metadata  datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
