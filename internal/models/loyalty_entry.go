package models

import (
	"time"

	"gorm.io/datatypes"
)

// LoyaltyEntry is an append-only ledger row. Points are signed: credits positive, debits
// negative. Referral entries carry no payment.
type LoyaltyEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	PaymentID *uint          `gorm:"index" json:"payment_id"`
	Points    int64          `gorm:"not null" json:"points"`
	Type      string         `gorm:"size:10;not null" json:"type"`
	Reason    string         `gorm:"size:32;not null;index" json:"reason"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (LoyaltyEntry) TableName() string {
	return "loyalty_entries"
}
