package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is the catalog row as seen by settlement: price, the vendor part number the
// machine reports on dispense, and free-form metadata carrying health_rating.
type Product struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Name             string          `gorm:"size:255;not null" json:"name"`
	VendorPartNumber string          `gorm:"size:64;index" json:"vendor_part_number"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(12,3);not null;default:0" json:"unit_price"`
	Metadata         datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// HealthRating reads metadata.health_rating, which the catalog stores as either a number
// or a numeric string. Zero means unknown.
func (p *Product) HealthRating() int {
	if len(p.Metadata) == 0 {
		return 0
	}
	var meta struct {
		HealthRating json.RawMessage `json:"health_rating"`
	}
	if err := json.Unmarshal(p.Metadata, &meta); err != nil || len(meta.HealthRating) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(meta.HealthRating, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(meta.HealthRating, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int(n)
		}
	}
	return 0
}
