package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vendpay/internal/domain"
	"vendpay/internal/events"
	"vendpay/internal/loyalty"
	"vendpay/internal/metrics"
	"vendpay/internal/models"
	"vendpay/internal/ws"
	"vendpay/pkg/payment"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// CheckoutRequest is what every purchase method starts from. Amount is the gross cart value;
// zero means derive it from Products.
type CheckoutRequest struct {
	UserID         uint
	MachineID      *uint
	Amount         decimal.Decimal
	PointsToRedeem decimal.Decimal
	Products       []loyalty.CartLine
}

// CardSource names exactly one way to pay by card.
type CardSource struct {
	CardID  string
	TokenID string
	Card    *payment.Card
}

func (s CardSource) empty() bool {
	return s.CardID == "" && s.TokenID == "" && s.Card == nil
}

// CapturedCharge is a charge the client already completed with the gateway (Apple Pay).
type CapturedCharge struct {
	ChargeID      string
	Status        string
	TransactionID string
}

type Result struct {
	Payment        *models.Payment `json:"payment"`
	EarnedPoints   int64           `json:"earned_points"`
	RedeemedPoints int64           `json:"redeemed_points"`
	RedeemedAmount decimal.Decimal `json:"redeemed_amount"`
	PayableAmount  decimal.Decimal `json:"payable_amount"`
}

type PaymentDeps struct {
	Users      UserStore
	Payments   PaymentStore
	Wallets    WalletStore
	Loyalty    LoyaltyLedger
	Calculator Calculator
	Catalog    Catalog
	Cart       Cart
	Machines   MachineNamer
	Notifier   Notifier
	Gateway    payment.Gateway
	Events     events.Publisher
	Hub        Broadcaster
}

// PaymentService settles purchases. Everything that can reject a purchase (user, points,
// gateway, wallet balance) runs before the payment row is written; everything after it is
// retried and logged but never fails the request.
type PaymentService struct {
	PaymentDeps
	currency   string
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewPaymentService(deps PaymentDeps, currency string, log *zap.Logger) *PaymentService {
	return &PaymentService{
		PaymentDeps: deps,
		currency:    currency,
		log:         log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 4)
		},
	}
}

// SetBackOff replaces the retry policy for post-payment steps.
func (s *PaymentService) SetBackOff(f func() backoff.BackOff) {
	s.newBackOff = f
}

type checkout struct {
	req        CheckoutRequest
	user       *models.User
	redemption *loyalty.Redemption
	lines      []models.PaymentProduct
}

func (c *checkout) payable() decimal.Decimal {
	return c.redemption.PayableAmount
}

// WalletCharge tops up the wallet from a card. No redemption, no points.
func (s *PaymentService) WalletCharge(ctx context.Context, userID uint, amount decimal.Decimal, src CardSource) (*Result, error) {
	amount = loyalty.Round(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: top-up amount must be positive", domain.ErrInvalidRequest)
	}
	if amount.GreaterThan(loyalty.MaxAmount) {
		return nil, fmt.Errorf("%w: top-up amount exceeds %s", domain.ErrInvalidRequest, loyalty.MaxAmount)
	}
	if src.empty() {
		return nil, fmt.Errorf("%w: card_id, token_id or card is required", domain.ErrInvalidRequest)
	}
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ch, txID, err := s.charge(ctx, user, amount, "Wallet top-up", func(customerID string) (string, error) {
		return s.cardToken(ctx, src, customerID)
	})
	if err != nil {
		metrics.RecordSettlement(domain.MethodWallet, "rejected")
		return nil, err
	}

	p := &models.Payment{
		UserID:        user.ID,
		TransactionID: txID,
		PaymentMethod: domain.MethodWallet,
		Status:        domain.StatusCredit,
		Amount:        amount,
		Currency:      s.currency,
		ChargeID:      &ch.ID,
	}
	if err := s.Payments.Create(ctx, p); err != nil {
		// The card is charged but nothing records it; leave a trail for manual repair.
		s.log.Error("top-up charged but payment not persisted",
			zap.Uint("user_id", user.ID), zap.String("charge_id", ch.ID), zap.Error(err))
		metrics.RecordCompensationPending("persist_topup")
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	balance := ""
	_ = s.retry(ctx, "wallet_credit", p, func(ctx context.Context) error {
		w, err := s.Wallets.Increment(ctx, user.ID, amount)
		if err == nil {
			balance = w.Balance.StringFixed(3)
		}
		return err
	})
	_ = s.retry(ctx, "wallet_transaction", p, func(ctx context.Context) error {
		return s.Wallets.RecordTransaction(ctx, &models.WalletTransaction{
			UserID:    user.ID,
			PaymentID: &p.ID,
			Type:      domain.WalletTxCredit,
			Amount:    amount,
			Metadata:  jsonMeta(map[string]interface{}{"charge_id": ch.ID, "source": "card"}),
		})
	})
	if err := s.Notifier.NotifyWalletTopUp(ctx, p, balance); err != nil {
		s.logStep(p, "notify", err)
	}
	s.announce(ctx, p, 0, 0)
	metrics.RecordSettlement(domain.MethodWallet, "success")
	return &Result{Payment: p, RedeemedAmount: decimal.Zero, PayableAmount: amount}, nil
}

// WalletPay pays from the stored-value balance. The debit happens before the payment row
// exists; if the row cannot be written the debit is given back.
func (s *PaymentService) WalletPay(ctx context.Context, req CheckoutRequest) (*Result, error) {
	c, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.payable().IsPositive() {
		return s.persistLoyaltyOnly(ctx, c)
	}

	if _, err := s.Wallets.Decrement(ctx, c.user.ID, c.payable()); err != nil {
		metrics.RecordSettlement(domain.MethodWallet, "rejected")
		return nil, err
	}

	p := s.newPayment(c, domain.MethodWallet, domain.StatusDebit, uuid.NewString(), nil)
	if err := s.Payments.Create(ctx, p); err != nil {
		restore := context.WithoutCancel(ctx)
		if rerr := s.retry(restore, "wallet_restore", p, func(ctx context.Context) error {
			_, err := s.Wallets.Increment(ctx, c.user.ID, c.payable())
			return err
		}); rerr == nil {
			s.log.Warn("wallet debit restored after payment persist failure",
				zap.Uint("user_id", c.user.ID), zap.String("amount", c.payable().StringFixed(3)))
		}
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	_ = s.retry(ctx, "wallet_transaction", p, func(ctx context.Context) error {
		return s.Wallets.RecordTransaction(ctx, &models.WalletTransaction{
			UserID:    c.user.ID,
			PaymentID: &p.ID,
			Type:      domain.WalletTxDebit,
			Amount:    c.payable(),
			Metadata:  jsonMeta(map[string]interface{}{"transaction_id": p.TransactionID}),
		})
	})
	return s.settle(ctx, c, p), nil
}

// CardPay charges a saved card, a client-side token, or raw card details.
func (s *PaymentService) CardPay(ctx context.Context, req CheckoutRequest, src CardSource) (*Result, error) {
	if src.empty() {
		return nil, fmt.Errorf("%w: card_id, token_id or card is required", domain.ErrInvalidRequest)
	}
	return s.payByGateway(ctx, req, domain.MethodCard, func(customerID string) (string, error) {
		return s.cardToken(ctx, src, customerID)
	})
}

// GPayPay charges a Google Pay payload after exchanging it for a gateway token.
func (s *PaymentService) GPayPay(ctx context.Context, req CheckoutRequest, paymentData json.RawMessage) (*Result, error) {
	if len(paymentData) == 0 {
		return nil, fmt.Errorf("%w: payment_data is required", domain.ErrInvalidRequest)
	}
	return s.payByGateway(ctx, req, domain.MethodGPay, func(string) (string, error) {
		return s.Gateway.CreateTokenFromWalletPayload(ctx, "googlepay", paymentData)
	})
}

// IOSPay records a charge the app already captured, so the gateway is not called.
func (s *PaymentService) IOSPay(ctx context.Context, req CheckoutRequest, captured CapturedCharge) (*Result, error) {
	c, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.payable().IsPositive() {
		return s.persistLoyaltyOnly(ctx, c)
	}
	if captured.ChargeID == "" {
		return nil, fmt.Errorf("%w: charge_id is required", domain.ErrInvalidRequest)
	}
	status := normalizeStatus(captured.Status)
	if status == "" {
		status = domain.StatusCaptured
	}
	if (&payment.Charge{Status: status}).Declined() {
		metrics.RecordSettlement(domain.MethodCard, "rejected")
		return nil, fmt.Errorf("%w: charge %s is %s", domain.ErrGatewayChargeFailed, captured.ChargeID, status)
	}
	txID := captured.TransactionID
	if txID == "" {
		txID = uuid.NewString()
	}
	chargeID := captured.ChargeID
	p := s.newPayment(c, domain.MethodCard, status, txID, &chargeID)
	if err := s.Payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.settle(context.WithoutCancel(ctx), c, p), nil
}

func (s *PaymentService) payByGateway(ctx context.Context, req CheckoutRequest, method string, source func(customerID string) (string, error)) (*Result, error) {
	c, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !c.payable().IsPositive() {
		return s.persistLoyaltyOnly(ctx, c)
	}
	ch, txID, err := s.charge(ctx, c.user, c.payable(), "Vending purchase", source)
	if err != nil {
		metrics.RecordSettlement(method, "rejected")
		return nil, err
	}
	p := s.newPayment(c, method, normalizeStatus(ch.Status), txID, &ch.ID)
	if err := s.Payments.Create(ctx, p); err != nil {
		s.log.Error("charge captured but payment not persisted",
			zap.Uint("user_id", c.user.ID), zap.String("charge_id", ch.ID), zap.Error(err))
		metrics.RecordCompensationPending("persist_payment")
		return nil, err
	}
	return s.settle(context.WithoutCancel(ctx), c, p), nil
}

// persistLoyaltyOnly handles a cart fully covered by points: no gateway, no wallet.
func (s *PaymentService) persistLoyaltyOnly(ctx context.Context, c *checkout) (*Result, error) {
	p := s.newPayment(c, domain.MethodLoyalty, domain.StatusPaid, uuid.NewString(), nil)
	if err := s.Payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.settle(context.WithoutCancel(ctx), c, p), nil
}

// begin runs every check that may reject the purchase. Nothing is written here.
func (s *PaymentService) begin(ctx context.Context, req CheckoutRequest) (*checkout, error) {
	for _, item := range req.Products {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: invalid cart line", domain.ErrInvalidRequest)
		}
	}
	if req.Amount.IsNegative() || req.PointsToRedeem.IsNegative() {
		return nil, fmt.Errorf("%w: amount and points must not be negative", domain.ErrInvalidRequest)
	}
	if req.Amount.GreaterThan(loyalty.MaxAmount) {
		return nil, fmt.Errorf("%w: amount exceeds %s", domain.ErrInvalidRequest, loyalty.MaxAmount)
	}
	if req.PointsToRedeem.GreaterThan(loyalty.MaxPoints) {
		return nil, fmt.Errorf("%w: points_to_redeem exceeds %s", domain.ErrInvalidRequest, loyalty.MaxPoints)
	}
	user, err := s.Users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(req.Products) == 0 && req.Amount.IsZero() {
		if req.Products, err = s.storedCart(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	lines, err := s.productLines(ctx, req.Products)
	if err != nil {
		return nil, err
	}
	r, err := s.Calculator.CalculateRedemption(ctx, user.ID, req.PointsToRedeem, req.Amount, req.Products)
	if err != nil {
		return nil, err
	}
	if r.PayableAmount.GreaterThan(loyalty.MaxAmount) {
		return nil, fmt.Errorf("%w: cart value exceeds %s", domain.ErrInvalidRequest, loyalty.MaxAmount)
	}
	return &checkout{req: req, user: user, redemption: r, lines: lines}, nil
}

// storedCart loads the user's saved cart for a checkout that names neither amount nor products.
func (s *PaymentService) storedCart(ctx context.Context, userID uint) ([]loyalty.CartLine, error) {
	items, err := s.Cart.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines := make([]loyalty.CartLine, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			lines = append(lines, loyalty.CartLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}
	return lines, nil
}

func (s *PaymentService) productLines(ctx context.Context, items []loyalty.CartLine) ([]models.PaymentProduct, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.Catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	prices := make(map[uint]decimal.Decimal, len(products))
	for _, p := range products {
		prices[p.ID] = p.UnitPrice
	}
	lines := make([]models.PaymentProduct, 0, len(items))
	for _, item := range items {
		price, ok := prices[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown product %d", domain.ErrInvalidRequest, item.ProductID)
		}
		lines = append(lines, models.PaymentProduct{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return lines, nil
}

// charge bootstraps the gateway customer, obtains a source token and charges amount. Any
// failure here is fatal to the request and happens before anything is persisted.
func (s *PaymentService) charge(ctx context.Context, user *models.User, amount decimal.Decimal, description string, source func(customerID string) (string, error)) (*payment.Charge, string, error) {
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, "", err
	}
	token, err := source(customerID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrGatewayChargeFailed, err)
	}
	reference := uuid.NewString()
	start := time.Now()
	ch, err := s.Gateway.CreateCharge(ctx, payment.ChargeRequest{
		Amount:      amount,
		Currency:    s.currency,
		SourceID:    token,
		CustomerID:  customerID,
		Description: description,
		Reference:   reference,
	})
	metrics.RecordGatewayCharge(time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("gateway charge failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return nil, "", fmt.Errorf("%w: %w", domain.ErrGatewayChargeFailed, err)
	}
	if ch.ID == "" {
		s.log.Error("gateway charge returned no id", zap.Uint("user_id", user.ID), zap.String("status", ch.Status))
		return nil, "", fmt.Errorf("%w: gateway returned a charge without an id", domain.ErrGatewayChargeFailed)
	}
	if ch.Declined() {
		s.log.Info("gateway charge declined", zap.Uint("user_id", user.ID),
			zap.String("charge_id", ch.ID), zap.String("status", ch.Status))
		return nil, "", fmt.Errorf("%w: charge %s is %s", domain.ErrGatewayChargeFailed, ch.ID, ch.Status)
	}
	txID := ch.Transaction.AuthorizationID
	if txID == "" {
		txID = reference
	}
	return ch, txID, nil
}

func (s *PaymentService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.GatewayCustomerID != nil && *user.GatewayCustomerID != "" {
		return *user.GatewayCustomerID, nil
	}
	id, err := s.Gateway.CreateCustomer(ctx, payment.CustomerRequest{
		Name:      user.DisplayName(),
		Email:     user.Email,
		Phone:     user.Phone,
		Reference: fmt.Sprintf("user-%d", user.ID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGatewayChargeFailed, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: gateway returned a customer without an id", domain.ErrGatewayChargeFailed)
	}
	stored, err := s.Users.SetGatewayCustomerID(ctx, user.ID, id)
	if err != nil {
		return "", err
	}
	user.GatewayCustomerID = &stored
	return stored, nil
}

func (s *PaymentService) cardToken(ctx context.Context, src CardSource, customerID string) (string, error) {
	switch {
	case src.CardID != "":
		return s.Gateway.CreateSavedCardToken(ctx, src.CardID, customerID)
	case src.TokenID != "":
		return src.TokenID, nil
	default:
		return s.Gateway.CreateCardToken(ctx, *src.Card)
	}
}

func (s *PaymentService) newPayment(c *checkout, method, status, txID string, chargeID *string) *models.Payment {
	lines := make([]models.PaymentProduct, len(c.lines))
	copy(lines, c.lines)
	return &models.Payment{
		UserID:        c.user.ID,
		MachineID:     c.req.MachineID,
		TransactionID: txID,
		PaymentMethod: method,
		Status:        status,
		Amount:        c.payable(),
		Currency:      s.currency,
		ChargeID:      chargeID,
		Products:      lines,
	}
}

// settle runs the steps that follow a persisted payment: award points, apply the redemption
// debit, empty the cart, notify. None of them can fail the purchase.
func (s *PaymentService) settle(ctx context.Context, c *checkout, p *models.Payment) *Result {
	res := &Result{
		Payment:        p,
		RedeemedAmount: decimal.Zero,
		PayableAmount:  c.payable(),
	}

	earned, err := s.Calculator.CalculatePurchasePoints(ctx, c.req.Products, c.payable())
	if err != nil {
		s.logStep(p, "award_points", err)
		metrics.RecordCompensationPending("award_points")
	}
	if earned > 0 {
		err := s.retry(ctx, "award_points", p, func(ctx context.Context) error {
			_, err := s.Loyalty.Append(ctx, &models.LoyaltyEntry{
				UserID:    p.UserID,
				PaymentID: &p.ID,
				Points:    earned,
				Type:      domain.LoyaltyTypeCredit,
				Reason:    domain.LoyaltyReasonPurchase,
				Metadata:  jsonMeta(map[string]interface{}{"payable_amount": c.payable().StringFixed(3)}),
			})
			return err
		})
		if err == nil {
			metrics.RecordPoints(domain.LoyaltyReasonPurchase, earned)
			_ = s.retry(ctx, "record_earned_points", p, func(ctx context.Context) error {
				return s.Payments.SetEarnedPoints(ctx, p.ID, earned)
			})
			p.EarnedPoints = &earned
			res.EarnedPoints = earned
		}
	}

	// The redemption debit must land once the payment exists, otherwise the user keeps
	// both the discount and the points.
	if redeemed := c.redemption.PointsRedeemed; redeemed > 0 {
		value := c.redemption.RedeemValue
		err := s.retry(ctx, "redeem_points", p, func(ctx context.Context) error {
			balance, err := s.Loyalty.Append(ctx, &models.LoyaltyEntry{
				UserID:    p.UserID,
				PaymentID: &p.ID,
				Points:    -redeemed,
				Type:      domain.LoyaltyTypeDebit,
				Reason:    domain.LoyaltyReasonRedeem,
				Metadata:  jsonMeta(map[string]interface{}{"redeem_value": value.StringFixed(3)}),
			})
			if err == nil && balance < 0 {
				s.log.Warn("loyalty balance negative after redemption",
					zap.Uint("user_id", p.UserID), zap.Uint("payment_id", p.ID), zap.Int64("balance", balance))
			}
			return err
		})
		if err == nil {
			metrics.RecordPoints(domain.LoyaltyReasonRedeem, redeemed)
		}
		_ = s.retry(ctx, "record_redemption", p, func(ctx context.Context) error {
			return s.Payments.SetRedemption(ctx, p.ID, redeemed, value)
		})
		p.RedeemedPoints = &redeemed
		p.RedeemedAmount = decimal.NewNullDecimal(value)
		res.RedeemedPoints = redeemed
		res.RedeemedAmount = value
	}

	_ = s.retry(ctx, "empty_cart", p, func(ctx context.Context) error {
		return s.Cart.EmptyCart(ctx, p.UserID)
	})

	machineName := s.Machines.GetMachineName(ctx, p.MachineID)
	if err := s.Notifier.NotifyPaymentSuccess(ctx, p, machineName); err != nil {
		s.logStep(p, "notify", err)
	}

	s.announce(ctx, p, res.EarnedPoints, res.RedeemedPoints)
	metrics.RecordSettlement(p.PaymentMethod, "success")
	s.log.Info("payment settled",
		zap.Uint("payment_id", p.ID),
		zap.Uint("user_id", p.UserID),
		zap.String("method", p.PaymentMethod),
		zap.String("amount", p.Amount.StringFixed(3)),
		zap.Int64("earned_points", res.EarnedPoints),
		zap.Int64("redeemed_points", res.RedeemedPoints))
	return res
}

func (s *PaymentService) announce(ctx context.Context, p *models.Payment, earned, redeemed int64) {
	data := map[string]interface{}{
		"amount":          p.Amount.StringFixed(3),
		"payment_method":  p.PaymentMethod,
		"earned_points":   earned,
		"redeemed_points": redeemed,
	}
	if s.Hub != nil {
		s.Hub.BroadcastToUser(p.UserID, ws.Update{Type: ws.UpdatePaymentSettled, PaymentID: p.ID, Status: p.Status, Data: data})
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.Event{
			Type:      events.TypePaymentSettled,
			PaymentID: p.ID,
			UserID:    p.UserID,
			Status:    p.Status,
			Data:      data,
		}); err != nil {
			s.logStep(p, "publish_event", err)
		}
	}
}

// retry runs a post-payment step until it succeeds, the policy gives up, or the error is
// not a datastore failure. A step that still fails is counted for out-of-band repair.
func (s *PaymentService) retry(ctx context.Context, step string, p *models.Payment, op func(ctx context.Context) error) error {
	err := backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && !errors.Is(err, domain.ErrPersistence) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
	if err != nil {
		s.logStep(p, step, err)
		metrics.RecordCompensationPending(step)
	}
	return err
}

func (s *PaymentService) logStep(p *models.Payment, step string, err error) {
	s.log.Error("post-payment step failed",
		zap.String("step", step),
		zap.Uint("payment_id", p.ID),
		zap.Uint("user_id", p.UserID),
		zap.String("transaction_id", p.TransactionID),
		zap.Error(err))
}

// GetPayment returns the payment if it belongs to userID.
func (s *PaymentService) GetPayment(ctx context.Context, userID, paymentID uint) (*models.Payment, error) {
	p, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

func jsonMeta(m map[string]interface{}) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
