// Package loyalty turns point requests into enforceable discounts and purchases into
// earned points. Nothing here writes; callers persist ledger entries.
package loyalty

import (
	"context"
	"fmt"
	"math"

	"vendpay/config"
	"vendpay/internal/domain"
	"vendpay/internal/models"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the minor-unit precision every amount is rounded to.
const CurrencyPlaces = 3

var (
	// MaxAmount is the largest value a decimal(12,3) column holds.
	MaxAmount = decimal.RequireFromString("999999999.999")
	// MaxPoints is the largest point quantity a ledger entry can carry.
	MaxPoints = decimal.NewFromInt(math.MaxInt64)
)

type Catalog interface {
	GetByIDs(ctx context.Context, ids []uint) ([]models.Product, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, userID uint) (int64, error)
}

// CartLine is one requested product and quantity.
type CartLine struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,min=1"`
}

type Redemption struct {
	RequestedPoints int64           `json:"requested_points"`
	PointsRedeemed  int64           `json:"points_redeemed"`
	RedeemValue     decimal.Decimal `json:"redeem_value"`
	CartAmount      decimal.Decimal `json:"cart_amount"`
	PayableAmount   decimal.Decimal `json:"payable_amount"`
}

type Calculator struct {
	catalog  Catalog
	balances BalanceReader
	cfg      config.LoyaltyConfig
}

func NewCalculator(catalog Catalog, balances BalanceReader, cfg config.LoyaltyConfig) *Calculator {
	return &Calculator{catalog: catalog, balances: balances, cfg: cfg}
}

// CalculateRedemption caps a point request by the user's balance and the cart value.
// A request above the balance is rejected, never trimmed.
func (c *Calculator) CalculateRedemption(ctx context.Context, userID uint, requestedPoints decimal.Decimal, cartAmount decimal.Decimal, items []CartLine) (*Redemption, error) {
	if !cartAmount.IsPositive() {
		derived, err := c.cartValue(ctx, items)
		if err != nil {
			return nil, err
		}
		cartAmount = derived
	}

	// No balance can cover more than MaxPoints; IntPart would wrap.
	if requestedPoints.Floor().GreaterThan(MaxPoints) {
		return nil, fmt.Errorf("%w: requested %s exceeds any balance", domain.ErrInsufficientPoints, requestedPoints.Floor().String())
	}
	desired := requestedPoints.Floor().IntPart()
	if desired < 0 {
		desired = 0
	}

	if !cartAmount.IsPositive() && desired == 0 {
		return &Redemption{RedeemValue: decimal.Zero, CartAmount: decimal.Zero, PayableAmount: decimal.Zero}, nil
	}
	if desired == 0 || !cartAmount.IsPositive() {
		return &Redemption{
			RequestedPoints: desired,
			RedeemValue:     decimal.Zero,
			CartAmount:      cartAmount,
			PayableAmount:   Round(decimal.Max(cartAmount, decimal.Zero)),
		}, nil
	}

	balance, err := c.balances.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < desired {
		return nil, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientPoints, desired, balance)
	}

	redeemed := desired
	if maxForAmount := cartAmount.Div(c.cfg.PointValue).Floor(); maxForAmount.LessThan(decimal.NewFromInt(redeemed)) {
		redeemed = maxForAmount.IntPart()
	}

	redeemValue := Round(decimal.NewFromInt(redeemed).Mul(c.cfg.PointValue))
	payable := Round(decimal.Max(cartAmount.Sub(redeemValue), decimal.Zero))

	return &Redemption{
		RequestedPoints: desired,
		PointsRedeemed:  redeemed,
		RedeemValue:     redeemValue,
		CartAmount:      cartAmount,
		PayableAmount:   payable,
	}, nil
}

// CalculatePurchasePoints awards points per item, weighted by health rating, falling back
// to the payable amount when the cart is empty or unpriced.
func (c *Calculator) CalculatePurchasePoints(ctx context.Context, items []CartLine, payableAmount decimal.Decimal) (int64, error) {
	fallback := payableAmount.Mul(c.cfg.BaseRate).Round(0).IntPart()
	if len(items) == 0 {
		return nonNegative(fallback), nil
	}

	products, err := c.lookup(ctx, items)
	if err != nil {
		return 0, err
	}

	total := decimal.Zero
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok || item.Quantity <= 0 {
			continue
		}
		total = total.Add(p.UnitPrice.
			Mul(c.cfg.BaseRate).
			Mul(decimal.NewFromInt(int64(item.Quantity))).
			Mul(c.Multiplier(p.HealthRating())))
	}

	points := total.Round(0).IntPart()
	if points <= 0 {
		return nonNegative(fallback), nil
	}
	return points, nil
}

// Multiplier maps a product health rating to its point multiplier.
func (c *Calculator) Multiplier(rating int) decimal.Decimal {
	switch {
	case rating >= c.cfg.HealthyRating:
		return c.cfg.HealthyMultiplier
	case rating == c.cfg.LowHealthRating:
		return c.cfg.LowHealthMultiplier
	default:
		return decimal.NewFromInt(1)
	}
}

// cartValue sums unit price times quantity over the catalog records for items.
func (c *Calculator) cartValue(ctx context.Context, items []CartLine) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, nil
	}
	products, err := c.lookup(ctx, items)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, item := range items {
		if p, ok := products[item.ProductID]; ok && item.Quantity > 0 {
			sum = sum.Add(p.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	return sum, nil
}

func (c *Calculator) lookup(ctx context.Context, items []CartLine) (map[uint]models.Product, error) {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	list, err := c.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]models.Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// Round applies the currency precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
