package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the settlement-side view of an account. Authentication lives elsewhere; this row
// carries what payments need: the gateway customer id, the push token and the cached
// loyalty aggregate.
type User struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Username          string         `gorm:"uniqueIndex;size:64;not null;default:''" json:"username"`
	Email             string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Phone             string         `gorm:"size:32" json:"phone"`
	GatewayCustomerID *string        `gorm:"uniqueIndex;size:128" json:"-"` // nil until the first card charge
	FCMToken          string         `gorm:"size:512" json:"-"`
	LoyaltyPoints     int64          `gorm:"not null;default:0" json:"loyalty_points"` // sum of loyalty_entries.points
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// DisplayName is what goes on the gateway customer record.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
