package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"vendpay/config"
	"vendpay/internal/domain"
	"vendpay/internal/events"
	"vendpay/internal/loyalty"
	"vendpay/internal/metrics"
	"vendpay/internal/models"
	"vendpay/pkg/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decEq(s string) interface{} {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

var errDB = fmt.Errorf("payment create: %w: %w", domain.ErrPersistence, errors.New("deadlock"))

type harness struct {
	users    *mockUsers
	payments *mockPayments
	wallets  *mockWallets
	ledger   *mockLedger
	calc     *mockCalculator
	catalog  *mockCatalog
	cart     *mockCart
	notifier *mockNotifier
	gateway  *mockGateway
	events   *recordingPublisher
	hub      *recordingHub
	svc      *PaymentService
}

func newHarness() *harness {
	h := &harness{
		users:    &mockUsers{},
		payments: &mockPayments{},
		wallets:  &mockWallets{},
		ledger:   &mockLedger{},
		calc:     &mockCalculator{},
		catalog:  &mockCatalog{},
		cart:     &mockCart{},
		notifier: &mockNotifier{},
		gateway:  &mockGateway{},
		events:   &recordingPublisher{},
		hub:      &recordingHub{},
	}
	h.svc = NewPaymentService(PaymentDeps{
		Users:      h.users,
		Payments:   h.payments,
		Wallets:    h.wallets,
		Loyalty:    h.ledger,
		Calculator: h.calc,
		Catalog:    h.catalog,
		Cart:       h.cart,
		Machines:   fixedMachines("Lobby"),
		Notifier:   h.notifier,
		Gateway:    h.gateway,
		Events:     h.events,
		Hub:        h.hub,
	}, "KWD", zap.NewNop())
	h.svc.SetBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	})
	return h
}

func (h *harness) assertAll(t *testing.T) {
	t.Helper()
	h.users.AssertExpectations(t)
	h.payments.AssertExpectations(t)
	h.wallets.AssertExpectations(t)
	h.ledger.AssertExpectations(t)
	h.calc.AssertExpectations(t)
	h.catalog.AssertExpectations(t)
	h.cart.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
	h.gateway.AssertExpectations(t)
}

func (h *harness) assertNothingWritten(t *testing.T) {
	t.Helper()
	h.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	h.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	h.cart.AssertNotCalled(t, "EmptyCart", mock.Anything, mock.Anything)
	h.notifier.AssertNotCalled(t, "NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.events.types())
}

func testUser() *models.User {
	return &models.User{ID: 1, Username: "amy", Email: "amy@example.com"}
}

func cartOf(lines ...loyalty.CartLine) []loyalty.CartLine { return lines }

func products() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Water", VendorPartNumber: "A1", UnitPrice: dec("1.5"), Metadata: datatypes.JSON(`{"health_rating": 4}`)},
		{ID: 2, Name: "Chips", VendorPartNumber: "B1", UnitPrice: dec("1"), Metadata: datatypes.JSON(`{"health_rating": 1}`)},
	}
}

func withID(id uint) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(*models.Payment).ID = id
	}
}

func entryMatching(points int64, reason string, paymentID uint) interface{} {
	return mock.MatchedBy(func(e *models.LoyaltyEntry) bool {
		return e.Points == points && e.Reason == reason && e.PaymentID != nil && *e.PaymentID == paymentID
	})
}

func capturedCharge(id, auth string) *payment.Charge {
	c := &payment.Charge{ID: id, Status: "CAPTURED"}
	c.Transaction.AuthorizationID = auth
	return c
}

func TestCardPay_SettlesWithRedemptionAndPoints(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	machineID := uint(7)
	req := CheckoutRequest{
		UserID:         1,
		MachineID:      &machineID,
		Amount:         dec("3"),
		PointsToRedeem: dec("2000"),
		Products:       cartOf(loyalty.CartLine{ProductID: 1, Quantity: 2}),
	}

	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.catalog.On("GetByIDs", mock.Anything, []uint{1}).Return(products()[:1], nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, req.Products).
		Return(&loyalty.Redemption{RequestedPoints: 2000, PointsRedeemed: 2000, RedeemValue: dec("2"), CartAmount: dec("3"), PayableAmount: dec("1")}, nil)
	h.gateway.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
	h.users.On("SetGatewayCustomerID", mock.Anything, uint(1), "cus_1").Return("cus_1", nil)
	h.gateway.On("CreateSavedCardToken", mock.Anything, "card_9", "cus_1").Return("tok_1", nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r payment.ChargeRequest) bool {
		return r.Amount.Equal(dec("1")) && r.SourceID == "tok_1" && r.CustomerID == "cus_1" && r.Currency == "KWD"
	})).Return(capturedCharge("chg_1", "auth_1"), nil)
	h.payments.On("Create", mock.Anything, mock.AnythingOfType("*models.Payment")).Run(withID(10)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, req.Products, decEq("1")).Return(int64(30), nil)
	h.ledger.On("Append", mock.Anything, entryMatching(30, domain.LoyaltyReasonPurchase, 10)).Return(int64(3030), nil)
	h.payments.On("SetEarnedPoints", mock.Anything, uint(10), int64(30)).Return(nil)
	h.ledger.On("Append", mock.Anything, entryMatching(-2000, domain.LoyaltyReasonRedeem, 10)).Return(int64(1030), nil)
	h.payments.On("SetRedemption", mock.Anything, uint(10), int64(2000), decEq("2")).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, "Lobby").Return(nil)

	res, err := h.svc.CardPay(ctx, req, CardSource{CardID: "card_9"})
	require.NoError(t, err)

	p := res.Payment
	assert.Equal(t, domain.MethodCard, p.PaymentMethod)
	assert.Equal(t, domain.StatusCaptured, p.Status)
	assert.True(t, p.Amount.Equal(dec("1")), "amount is the payable amount")
	require.NotNil(t, p.ChargeID)
	assert.Equal(t, "chg_1", *p.ChargeID)
	assert.Equal(t, "auth_1", p.TransactionID)
	assert.Equal(t, &machineID, p.MachineID)
	require.Len(t, p.Products, 1)
	assert.Equal(t, 2, p.Products[0].Quantity)
	assert.Equal(t, 0, p.Products[0].DispensedQuantity)
	assert.True(t, p.Products[0].UnitPrice.Equal(dec("1.5")))

	assert.Equal(t, int64(30), res.EarnedPoints)
	assert.Equal(t, int64(2000), res.RedeemedPoints)
	assert.True(t, res.RedeemedAmount.Equal(dec("2")))
	require.NotNil(t, p.EarnedPoints)
	assert.Equal(t, int64(30), *p.EarnedPoints)
	assert.Equal(t, []string{events.TypePaymentSettled}, h.events.types())
	assert.Equal(t, 1, h.hub.count(1))
	h.assertAll(t)
}

func TestCardPay_TransactionIDFallsBackToReference(t *testing.T) {
	h := newHarness()
	user := testUser()
	cus := "cus_known"
	user.GatewayCustomerID = &cus

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("2"), PayableAmount: dec("2"), RedeemValue: decimal.Zero}, nil)
	var reference string
	h.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r payment.ChargeRequest) bool {
		reference = r.Reference
		return r.SourceID == "tok_client" && r.CustomerID == "cus_known"
	})).Return(&payment.Charge{ID: "chg_2", Status: "INITIATED"}, nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(11)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")}, CardSource{TokenID: "tok_client"})
	require.NoError(t, err)
	assert.NotEmpty(t, reference)
	assert.Equal(t, reference, res.Payment.TransactionID)
	assert.Equal(t, "INITIATED", res.Payment.Status)
	h.gateway.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything)
	h.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestCardPay_InsufficientPointsAbortsBeforeCharge(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: requested 900, available 10", domain.ErrInsufficientPoints))

	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("3"), PointsToRedeem: dec("900")}, CardSource{TokenID: "tok"})
	require.ErrorIs(t, err, domain.ErrInsufficientPoints)
	assert.Equal(t, domain.KindInsufficientPoints, domain.KindOf(err))
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.assertNothingWritten(t)
}

func TestCardPay_UserNotFound(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(99)).Return(nil, domain.ErrUserNotFound)

	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 99, Amount: dec("1")}, CardSource{TokenID: "tok"})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	h.calc.AssertNotCalled(t, "CalculateRedemption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.assertNothingWritten(t)
}

func TestCardPay_RequiresSource(t *testing.T) {
	h := newHarness()
	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("1")}, CardSource{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	h.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCardPay_UnknownProductRejected(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.catalog.On("GetByIDs", mock.Anything, []uint{1, 42}).Return(products()[:1], nil)

	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{
		UserID:   1,
		Products: cartOf(loyalty.CartLine{ProductID: 1, Quantity: 1}, loyalty.CartLine{ProductID: 42, Quantity: 1}),
	}, CardSource{TokenID: "tok"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	h.assertNothingWritten(t)
}

func TestCardPay_GatewayFailureAbortsBeforePersistence(t *testing.T) {
	for name, setup := range map[string]func(h *harness){
		"error": func(h *harness) {
			h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(nil, errors.New("gateway timeout"))
		},
		"declined": func(h *harness) {
			h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(&payment.Charge{ID: "chg_x", Status: "DECLINED"}, nil)
		},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			user := testUser()
			cus := "cus_1"
			user.GatewayCustomerID = &cus
			h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
			h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
				Return(&loyalty.Redemption{PointsRedeemed: 500, RedeemValue: dec("0.5"), CartAmount: dec("2"), PayableAmount: dec("1.5")}, nil)
			setup(h)

			_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2"), PointsToRedeem: dec("500")}, CardSource{TokenID: "tok"})
			require.ErrorIs(t, err, domain.ErrGatewayChargeFailed)
			assert.Equal(t, domain.KindGatewayChargeFailed, domain.KindOf(err))
			h.assertNothingWritten(t)
		})
	}
}

func TestCheckout_RejectsValuesBeyondStorage(t *testing.T) {
	cases := map[string]CheckoutRequest{
		"amount":         {UserID: 1, Amount: dec("1000000000")},
		"points":         {UserID: 1, Amount: dec("3"), PointsToRedeem: dec("9223372036854775808")},
		"points wrapped": {UserID: 1, Amount: dec("3"), PointsToRedeem: dec("18446744073709553616")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			_, err := h.svc.CardPay(context.Background(), req, CardSource{TokenID: "tok"})
			require.ErrorIs(t, err, domain.ErrInvalidRequest)
			h.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
			h.calc.AssertNotCalled(t, "CalculateRedemption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
			h.assertNothingWritten(t)
		})
	}
}

func TestCheckout_DerivedCartBeyondStorage(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.catalog.On("GetByIDs", mock.Anything, []uint{1}).Return(products()[:1], nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("1500000000"), PayableAmount: dec("1500000000"), RedeemValue: decimal.Zero}, nil)

	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{
		UserID:   1,
		Products: cartOf(loyalty.CartLine{ProductID: 1, Quantity: 1000000000}),
	}, CardSource{TokenID: "tok"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.assertNothingWritten(t)
}

func TestWalletCharge_RejectsAmountBeyondStorage(t *testing.T) {
	h := newHarness()
	_, err := h.svc.WalletCharge(context.Background(), 1, dec("1000000000"), CardSource{TokenID: "tok"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestCheckout_FallsBackToStoredCart(t *testing.T) {
	h := newHarness()
	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus
	stored := cartOf(loyalty.CartLine{ProductID: 1, Quantity: 2})

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.cart.On("ListItems", mock.Anything, uint(1)).Return([]models.CartItem{
		{UserID: 1, ProductID: 1, Quantity: 2},
		{UserID: 1, ProductID: 2, Quantity: 0},
	}, nil)
	h.catalog.On("GetByIDs", mock.Anything, []uint{1}).Return(products()[:1], nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, stored).
		Return(&loyalty.Redemption{CartAmount: dec("3"), PayableAmount: dec("3"), RedeemValue: decimal.Zero}, nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(capturedCharge("chg_cart", "auth_cart"), nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(14)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, stored, decEq("3")).Return(int64(0), nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1}, CardSource{TokenID: "tok"})
	require.NoError(t, err)
	require.Len(t, res.Payment.Products, 1)
	assert.Equal(t, 2, res.Payment.Products[0].Quantity)
	h.assertAll(t)
}

func TestCardPay_ExplicitAmountSkipsStoredCart(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: requested 900, available 10", domain.ErrInsufficientPoints))

	_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("3"), PointsToRedeem: dec("900")}, CardSource{TokenID: "tok"})
	require.ErrorIs(t, err, domain.ErrInsufficientPoints)
	h.cart.AssertNotCalled(t, "ListItems", mock.Anything, mock.Anything)
}

func TestCardPay_EmptyGatewayIDsRejected(t *testing.T) {
	t.Run("charge", func(t *testing.T) {
		h := newHarness()
		user := testUser()
		cus := "cus_1"
		user.GatewayCustomerID = &cus
		h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
		h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
			Return(&loyalty.Redemption{CartAmount: dec("2"), PayableAmount: dec("2"), RedeemValue: decimal.Zero}, nil)
		h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(&payment.Charge{Status: "CAPTURED"}, nil)

		_, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")}, CardSource{TokenID: "tok"})
		require.ErrorIs(t, err, domain.ErrGatewayChargeFailed)
		h.assertNothingWritten(t)
	})

	t.Run("customer", func(t *testing.T) {
		h := newHarness()
		h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
		h.gateway.On("CreateCustomer", mock.Anything, mock.Anything).Return("", nil)

		_, err := h.svc.WalletCharge(context.Background(), 1, dec("5"), CardSource{TokenID: "tok"})
		require.ErrorIs(t, err, domain.ErrGatewayChargeFailed)
		h.users.AssertNotCalled(t, "SetGatewayCustomerID", mock.Anything, mock.Anything, mock.Anything)
		h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
		h.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestCardPay_RawCardTokenized(t *testing.T) {
	h := newHarness()
	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus
	card := &payment.Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVC: "123"}

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("1"), PayableAmount: dec("1"), RedeemValue: decimal.Zero}, nil)
	h.gateway.On("CreateCardToken", mock.Anything, *card).Return("tok_raw", nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r payment.ChargeRequest) bool { return r.SourceID == "tok_raw" })).
		Return(capturedCharge("chg_3", "auth_3"), nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(12)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	h.ledger.On("Append", mock.Anything, entryMatching(10, domain.LoyaltyReasonPurchase, 12)).Return(int64(10), nil)
	h.payments.On("SetEarnedPoints", mock.Anything, uint(12), int64(10)).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("1")}, CardSource{Card: card})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.EarnedPoints)
	h.payments.AssertNotCalled(t, "SetRedemption", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestGPayPay(t *testing.T) {
	h := newHarness()
	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus
	data := json.RawMessage(`{"signature":"abc","protocolVersion":"ECv2"}`)

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("0.75"), PayableAmount: dec("0.75"), RedeemValue: decimal.Zero}, nil)
	h.gateway.On("CreateTokenFromWalletPayload", mock.Anything, "googlepay", data).Return("tok_gp", nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(capturedCharge("chg_gp", ""), nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(13)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.GPayPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("0.75")}, data)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodGPay, res.Payment.PaymentMethod)
	h.assertAll(t)

	_, err = h.svc.GPayPay(context.Background(), CheckoutRequest{UserID: 1}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestWalletPay_DebitsBeforePersisting(t *testing.T) {
	h := newHarness()
	var order []string
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("2.5"), PayableAmount: dec("2.5"), RedeemValue: decimal.Zero}, nil)
	h.wallets.On("Decrement", mock.Anything, uint(1), decEq("2.5")).
		Run(func(mock.Arguments) { order = append(order, "decrement") }).
		Return(&models.Wallet{UserID: 1, Balance: dec("7.5")}, nil)
	h.payments.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			order = append(order, "create")
			withID(20)(args)
		}).Return(nil)
	h.wallets.On("RecordTransaction", mock.Anything, mock.MatchedBy(func(tx *models.WalletTransaction) bool {
		return tx.Type == domain.WalletTxDebit && tx.Amount.Equal(dec("2.5")) && tx.PaymentID != nil && *tx.PaymentID == 20
	})).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(25), nil)
	h.ledger.On("Append", mock.Anything, entryMatching(25, domain.LoyaltyReasonPurchase, 20)).Return(int64(25), nil)
	h.payments.On("SetEarnedPoints", mock.Anything, uint(20), int64(25)).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.WalletPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2.5")})
	require.NoError(t, err)
	assert.Equal(t, []string{"decrement", "create"}, order)
	assert.Equal(t, domain.MethodWallet, res.Payment.PaymentMethod)
	assert.Equal(t, domain.StatusDebit, res.Payment.Status)
	assert.Nil(t, res.Payment.ChargeID)
	assert.NotEmpty(t, res.Payment.TransactionID)
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestWalletPay_InsufficientBalanceAborts(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{PointsRedeemed: 100, RedeemValue: dec("0.1"), CartAmount: dec("5"), PayableAmount: dec("4.9")}, nil)
	h.wallets.On("Decrement", mock.Anything, uint(1), decEq("4.9")).Return(nil, domain.ErrInsufficientBalance)

	_, err := h.svc.WalletPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("5"), PointsToRedeem: dec("100")})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))
	h.wallets.AssertNotCalled(t, "RecordTransaction", mock.Anything, mock.Anything)
	h.assertNothingWritten(t)
}

func TestWalletPay_RestoresDebitWhenPaymentNotPersisted(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("2"), PayableAmount: dec("2"), RedeemValue: decimal.Zero}, nil)
	h.wallets.On("Decrement", mock.Anything, uint(1), decEq("2")).Return(&models.Wallet{Balance: dec("1")}, nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Return(errDB)
	h.wallets.On("Increment", mock.Anything, uint(1), decEq("2")).Return(&models.Wallet{Balance: dec("3")}, nil).Once()

	_, err := h.svc.WalletPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")})
	require.ErrorIs(t, err, domain.ErrPersistence)
	h.wallets.AssertExpectations(t)
	h.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	h.cart.AssertNotCalled(t, "EmptyCart", mock.Anything, mock.Anything)
}

func TestWalletCharge_TopUp(t *testing.T) {
	h := newHarness()
	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r payment.ChargeRequest) bool {
		return r.Amount.Equal(dec("5")) && r.SourceID == "tok_client"
	})).Return(capturedCharge("chg_top", "auth_top"), nil)
	h.payments.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.PaymentMethod == domain.MethodWallet && p.Status == domain.StatusCredit && len(p.Products) == 0
	})).Run(withID(30)).Return(nil)
	h.wallets.On("Increment", mock.Anything, uint(1), decEq("5")).Return(&models.Wallet{UserID: 1, Balance: dec("12.5")}, nil)
	h.wallets.On("RecordTransaction", mock.Anything, mock.MatchedBy(func(tx *models.WalletTransaction) bool {
		return tx.Type == domain.WalletTxCredit && tx.Amount.Equal(dec("5")) && *tx.PaymentID == 30
	})).Return(nil)
	h.notifier.On("NotifyWalletTopUp", mock.Anything, mock.Anything, "12.500").Return(nil)

	res, err := h.svc.WalletCharge(context.Background(), 1, dec("5"), CardSource{TokenID: "tok_client"})
	require.NoError(t, err)
	assert.Equal(t, "chg_top", *res.Payment.ChargeID)
	h.calc.AssertNotCalled(t, "CalculateRedemption", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	h.cart.AssertNotCalled(t, "EmptyCart", mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestWalletCharge_RejectsNonPositiveAmount(t *testing.T) {
	h := newHarness()
	_, err := h.svc.WalletCharge(context.Background(), 1, dec("0.0004"), CardSource{TokenID: "tok"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPayableZeroDegradesToLoyalty(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{RequestedPoints: 5000, PointsRedeemed: 3000, RedeemValue: dec("3"), CartAmount: dec("3"), PayableAmount: decimal.Zero}, nil)
	h.payments.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.PaymentMethod == domain.MethodLoyalty && p.Status == domain.StatusPaid && p.Amount.IsZero() && p.ChargeID == nil
	})).Run(withID(40)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.ledger.On("Append", mock.Anything, entryMatching(-3000, domain.LoyaltyReasonRedeem, 40)).Return(int64(2000), nil)
	h.payments.On("SetRedemption", mock.Anything, uint(40), int64(3000), decEq("3")).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("3"), PointsToRedeem: dec("5000")}, CardSource{TokenID: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.RedeemedPoints)
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.wallets.AssertNotCalled(t, "Decrement", mock.Anything, mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestPostPaymentFailureDoesNotFailPurchase(t *testing.T) {
	h := newHarness()
	before := testutil.ToFloat64(metrics.CompensationPendingTotal.WithLabelValues("award_points"))

	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus
	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("1"), PayableAmount: dec("1"), RedeemValue: decimal.Zero}, nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.Anything).Return(capturedCharge("chg_5", "auth_5"), nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(50)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	h.ledger.On("Append", mock.Anything, mock.Anything).Return(int64(0), errDB).Times(3)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(errors.New("cart service down"))
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("push failed"))

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("1")}, CardSource{TokenID: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.EarnedPoints)
	assert.Equal(t, uint(50), res.Payment.ID)
	h.payments.AssertNotCalled(t, "SetEarnedPoints", mock.Anything, mock.Anything, mock.Anything)
	h.cart.AssertNumberOfCalls(t, "EmptyCart", 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CompensationPendingTotal.WithLabelValues("award_points")))
	h.assertAll(t)
}

func TestRedemptionDebitRetriedUntilItLands(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{PointsRedeemed: 1000, RedeemValue: dec("1"), CartAmount: dec("1"), PayableAmount: decimal.Zero}, nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(60)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.ledger.On("Append", mock.Anything, entryMatching(-1000, domain.LoyaltyReasonRedeem, 60)).Return(int64(0), errDB).Once()
	h.ledger.On("Append", mock.Anything, entryMatching(-1000, domain.LoyaltyReasonRedeem, 60)).Return(int64(0), nil).Once()
	h.payments.On("SetRedemption", mock.Anything, uint(60), int64(1000), decEq("1")).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := h.svc.WalletPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("1"), PointsToRedeem: dec("1000")})
	require.NoError(t, err)
	h.ledger.AssertNumberOfCalls(t, "Append", 2)
	h.assertAll(t)
}

func TestIOSPay(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("2"), PayableAmount: dec("2"), RedeemValue: decimal.Zero}, nil)
	h.payments.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.PaymentMethod == domain.MethodCard && p.Status == domain.StatusCaptured &&
			p.ChargeID != nil && *p.ChargeID == "chg_ios" && p.TransactionID == "tx_ios"
	})).Run(withID(70)).Return(nil)
	h.calc.On("CalculatePurchasePoints", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := h.svc.IOSPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")},
		CapturedCharge{ChargeID: "chg_ios", Status: "captured", TransactionID: "tx_ios"})
	require.NoError(t, err)
	h.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	h.assertAll(t)
}

func TestIOSPay_Rejections(t *testing.T) {
	h := newHarness()
	h.users.On("GetByID", mock.Anything, uint(1)).Return(testUser(), nil)
	h.calc.On("CalculateRedemption", mock.Anything, uint(1), mock.Anything, mock.Anything, mock.Anything).
		Return(&loyalty.Redemption{CartAmount: dec("2"), PayableAmount: dec("2"), RedeemValue: decimal.Zero}, nil)

	_, err := h.svc.IOSPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")}, CapturedCharge{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.svc.IOSPay(context.Background(), CheckoutRequest{UserID: 1, Amount: dec("2")}, CapturedCharge{ChargeID: "chg", Status: "FAILED"})
	assert.ErrorIs(t, err, domain.ErrGatewayChargeFailed)
	h.assertNothingWritten(t)
}

type staticBalance int64

func (b staticBalance) Balance(ctx context.Context, userID uint) (int64, error) {
	return int64(b), nil
}

// A 5000-point user redeeming 2000 points on a 3.000 cart pays 1.000 and earns points on
// the items.
func TestCheckoutWithRealCalculator(t *testing.T) {
	h := newHarness()
	cfg := config.LoyaltyConfig{
		PointValue:          dec("0.001"),
		BaseRate:            decimal.NewFromInt(10),
		HealthyMultiplier:   dec("1.5"),
		HealthyRating:       3,
		LowHealthRating:     1,
		LowHealthMultiplier: decimal.NewFromInt(1),
	}
	h.svc.Calculator = loyalty.NewCalculator(h.catalog, staticBalance(5000), cfg)
	user := testUser()
	cus := "cus_1"
	user.GatewayCustomerID = &cus
	items := cartOf(loyalty.CartLine{ProductID: 1, Quantity: 2})

	h.users.On("GetByID", mock.Anything, uint(1)).Return(user, nil)
	h.catalog.On("GetByIDs", mock.Anything, []uint{1}).Return(products()[:1], nil)
	h.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r payment.ChargeRequest) bool {
		return r.Amount.Equal(dec("1"))
	})).Return(capturedCharge("chg_e2e", "auth_e2e"), nil)
	h.payments.On("Create", mock.Anything, mock.Anything).Run(withID(80)).Return(nil)
	h.ledger.On("Append", mock.Anything, entryMatching(45, domain.LoyaltyReasonPurchase, 80)).Return(int64(5045), nil)
	h.payments.On("SetEarnedPoints", mock.Anything, uint(80), int64(45)).Return(nil)
	h.ledger.On("Append", mock.Anything, entryMatching(-2000, domain.LoyaltyReasonRedeem, 80)).Return(int64(3045), nil)
	h.payments.On("SetRedemption", mock.Anything, uint(80), int64(2000), decEq("2")).Return(nil)
	h.cart.On("EmptyCart", mock.Anything, uint(1)).Return(nil)
	h.notifier.On("NotifyPaymentSuccess", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := h.svc.CardPay(context.Background(), CheckoutRequest{
		UserID:         1,
		Amount:         dec("3.000"),
		PointsToRedeem: dec("2000"),
		Products:       items,
	}, CardSource{TokenID: "tok"})
	require.NoError(t, err)
	assert.True(t, res.PayableAmount.Equal(dec("1.000")))
	assert.True(t, res.RedeemedAmount.Equal(dec("2.000")))
	assert.Equal(t, int64(2000), res.RedeemedPoints)
	assert.Equal(t, int64(45), res.EarnedPoints)
	h.assertAll(t)
}

func TestGetPayment_OwnerOnly(t *testing.T) {
	h := newHarness()
	h.payments.On("GetByID", mock.Anything, uint(5)).Return(&models.Payment{ID: 5, UserID: 2}, nil)

	_, err := h.svc.GetPayment(context.Background(), 1, 5)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	p, err := h.svc.GetPayment(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, uint(5), p.ID)
}
