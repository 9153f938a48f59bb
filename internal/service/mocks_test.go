package service

import (
	"context"
	"encoding/json"
	"sync"

	"vendpay/internal/events"
	"vendpay/internal/loyalty"
	"vendpay/internal/models"
	"vendpay/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockUsers struct{ mock.Mock }

func (m *mockUsers) GetByID(ctx context.Context, id uint) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *mockUsers) SetGatewayCustomerID(ctx context.Context, userID uint, customerID string) (string, error) {
	args := m.Called(ctx, userID, customerID)
	return args.String(0), args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Create(ctx context.Context, p *models.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockPayments) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockPayments) GetByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	args := m.Called(ctx, chargeID)
	p, _ := args.Get(0).(*models.Payment)
	return p, args.Error(1)
}

func (m *mockPayments) UpdateStatus(ctx context.Context, id uint, status string) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

func (m *mockPayments) SetEarnedPoints(ctx context.Context, id uint, points int64) error {
	return m.Called(ctx, id, points).Error(0)
}

func (m *mockPayments) SetRedemption(ctx context.Context, id uint, points int64, amount decimal.Decimal) error {
	return m.Called(ctx, id, points, amount).Error(0)
}

func (m *mockPayments) SetRefundStatus(ctx context.Context, id uint, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockPayments) ListProducts(ctx context.Context, paymentID uint) ([]models.PaymentProduct, error) {
	args := m.Called(ctx, paymentID)
	list, _ := args.Get(0).([]models.PaymentProduct)
	return list, args.Error(1)
}

func (m *mockPayments) AdvanceDispensed(ctx context.Context, lineID uint, qty int) (bool, error) {
	args := m.Called(ctx, lineID, qty)
	return args.Bool(0), args.Error(1)
}

type mockWallets struct{ mock.Mock }

func (m *mockWallets) Increment(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error) {
	args := m.Called(ctx, userID, amount)
	w, _ := args.Get(0).(*models.Wallet)
	return w, args.Error(1)
}

func (m *mockWallets) Decrement(ctx context.Context, userID uint, amount decimal.Decimal) (*models.Wallet, error) {
	args := m.Called(ctx, userID, amount)
	w, _ := args.Get(0).(*models.Wallet)
	return w, args.Error(1)
}

func (m *mockWallets) RecordTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Append(ctx context.Context, entry *models.LoyaltyEntry) (int64, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(int64), args.Error(1)
}

type mockCalculator struct{ mock.Mock }

func (m *mockCalculator) CalculateRedemption(ctx context.Context, userID uint, requestedPoints, cartAmount decimal.Decimal, items []loyalty.CartLine) (*loyalty.Redemption, error) {
	args := m.Called(ctx, userID, requestedPoints, cartAmount, items)
	r, _ := args.Get(0).(*loyalty.Redemption)
	return r, args.Error(1)
}

func (m *mockCalculator) CalculatePurchasePoints(ctx context.Context, items []loyalty.CartLine, payableAmount decimal.Decimal) (int64, error) {
	args := m.Called(ctx, items, payableAmount)
	return args.Get(0).(int64), args.Error(1)
}

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) GetByIDs(ctx context.Context, ids []uint) ([]models.Product, error) {
	args := m.Called(ctx, ids)
	list, _ := args.Get(0).([]models.Product)
	return list, args.Error(1)
}

type mockCart struct{ mock.Mock }

func (m *mockCart) ListItems(ctx context.Context, userID uint) ([]models.CartItem, error) {
	args := m.Called(ctx, userID)
	items, _ := args.Get(0).([]models.CartItem)
	return items, args.Error(1)
}

func (m *mockCart) EmptyCart(ctx context.Context, userID uint) error {
	return m.Called(ctx, userID).Error(0)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifyPaymentSuccess(ctx context.Context, p *models.Payment, machineName string) error {
	return m.Called(ctx, p, machineName).Error(0)
}

func (m *mockNotifier) NotifyWalletTopUp(ctx context.Context, p *models.Payment, balance string) error {
	return m.Called(ctx, p, balance).Error(0)
}

func (m *mockNotifier) NotifyPaymentRefund(ctx context.Context, p *models.Payment, machineName string, ordered, dispensed int) error {
	return m.Called(ctx, p, machineName, ordered, dispensed).Error(0)
}

func (m *mockNotifier) NotifyDispenseComplete(ctx context.Context, p *models.Payment, machineName string, dispensed int) error {
	return m.Called(ctx, p, machineName, dispensed).Error(0)
}

func (m *mockNotifier) NotifyReferralBonus(ctx context.Context, userID uint, points int64) error {
	return m.Called(ctx, userID, points).Error(0)
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) CreateCustomer(ctx context.Context, req payment.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCardToken(ctx context.Context, card payment.Card) (string, error) {
	args := m.Called(ctx, card)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateSavedCardToken(ctx context.Context, cardID, customerID string) (string, error) {
	args := m.Called(ctx, cardID, customerID)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateTokenFromWalletPayload(ctx context.Context, walletType string, payload json.RawMessage) (string, error) {
	args := m.Called(ctx, walletType, payload)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	args := m.Called(ctx, req)
	c, _ := args.Get(0).(*payment.Charge)
	return c, args.Error(1)
}

type fixedMachines string

func (f fixedMachines) GetMachineName(ctx context.Context, machineID *uint) string {
	return string(f)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingHub struct {
	mu       sync.Mutex
	payloads map[uint][]interface{}
}

func (r *recordingHub) BroadcastToUser(userID uint, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.payloads == nil {
		r.payloads = make(map[uint][]interface{})
	}
	r.payloads[userID] = append(r.payloads[userID], payload)
}

func (r *recordingHub) count(userID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads[userID])
}

type mockAudit struct{ mock.Mock }

func (m *mockAudit) Create(ctx context.Context, log *models.AuditLog) error {
	return m.Called(ctx, log).Error(0)
}
