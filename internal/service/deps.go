package service

import (
	"context"

	"vendpay/internal/loyalty"
	"vendpay/internal/models"

	"github.com/shopspring/decimal"
)

type UserStore interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) (string, error)
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uint, status string) (bool, error)
	SetEarnedPoints(ctx context.Context, id uint, points int64) error
	SetRedemption(ctx context.Context, id uint, points int64, amount decimal.Decimal) error
	SetRefundStatus(ctx context.Context, id uint, status string) error
	ListProducts(ctx context.Context, paymentID uint) ([]models.PaymentProduct, error)
	AdvanceDispensed(ctx context.Context, lineID uint, qty int) (bool, error)
}

type WalletStore interface {
	Increment(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error)
	Decrement(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error)
	RecordTransaction(ctx context.Context, tx *models.WalletTransaction) error
}

// LoyaltyLedger appends signed point entries and keeps the balance aggregate in step.
type LoyaltyLedger interface {
	Append(ctx context.Context, entry *models.LoyaltyEntry) (int64, error)
}

type Calculator interface {
	CalculateRedemption(ctx context.Context, userID uint, requestedPoints, cartAmount decimal.Decimal, items []loyalty.CartLine) (*loyalty.Redemption, error)
	CalculatePurchasePoints(ctx context.Context, items []loyalty.CartLine, payableAmount decimal.Decimal) (int64, error)
}

type Catalog interface {
	GetByIDs(ctx context.Context, ids []uint) ([]models.Product, error)
}

type Cart interface {
	ListItems(ctx context.Context, userID uint) ([]models.CartItem, error)
	EmptyCart(ctx context.Context, userID uint) error
}

type MachineNamer interface {
	GetMachineName(ctx context.Context, machineID *uint) string
}

type Notifier interface {
	NotifyPaymentSuccess(ctx context.Context, p *models.Payment, machineName string) error
	NotifyWalletTopUp(ctx context.Context, p *models.Payment, balance string) error
	NotifyPaymentRefund(ctx context.Context, p *models.Payment, machineName string, ordered, dispensed int) error
	NotifyDispenseComplete(ctx context.Context, p *models.Payment, machineName string, dispensed int) error
}

type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Broadcaster pushes live updates to a user's open connections.
type Broadcaster interface {
	BroadcastToUser(userID uint, payload interface{})
}
