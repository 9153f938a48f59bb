package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"vendpay/internal/loyalty"
	"vendpay/internal/middleware"
	"vendpay/internal/models"
	"vendpay/internal/service"
	"vendpay/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	WalletCharge(ctx context.Context, userID uint, amount decimal.Decimal, src service.CardSource) (*service.Result, error)
	WalletPay(ctx context.Context, req service.CheckoutRequest) (*service.Result, error)
	CardPay(ctx context.Context, req service.CheckoutRequest, src service.CardSource) (*service.Result, error)
	GPayPay(ctx context.Context, req service.CheckoutRequest, paymentData json.RawMessage) (*service.Result, error)
	IOSPay(ctx context.Context, req service.CheckoutRequest, captured service.CapturedCharge) (*service.Result, error)
	GetPayment(ctx context.Context, userID, paymentID uint) (*models.Payment, error)
}

type PaymentHandler struct {
	svc PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// checkoutBody is shared by every purchase endpoint. amount may be omitted, in which case
// the cart total is derived from products.
type checkoutBody struct {
	MachineID      *uint              `json:"machine_id"`
	Amount         decimal.Decimal    `json:"amount"`
	PointsToRedeem decimal.Decimal    `json:"points_to_redeem"`
	Products       []loyalty.CartLine `json:"products" binding:"dive"`
}

func (b checkoutBody) request(userID uint) service.CheckoutRequest {
	return service.CheckoutRequest{
		UserID:         userID,
		MachineID:      b.MachineID,
		Amount:         b.Amount,
		PointsToRedeem: b.PointsToRedeem,
		Products:       b.Products,
	}
}

type cardFields struct {
	CardID  string        `json:"card_id"`
	TokenID string        `json:"token_id"`
	Card    *payment.Card `json:"card"`
}

func (f cardFields) source() service.CardSource {
	return service.CardSource{CardID: f.CardID, TokenID: f.TokenID, Card: f.Card}
}

// WalletCharge tops up the caller's wallet from a card.
// POST /payments/wallet/charge
func (h *PaymentHandler) WalletCharge(c *gin.Context) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		cardFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.WalletCharge(c.Request.Context(), middleware.GetUserID(c), req.Amount, req.source())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// WalletPay pays a cart from the wallet balance.
// POST /payments/wallet/pay
func (h *PaymentHandler) WalletPay(c *gin.Context) {
	var req checkoutBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.WalletPay(c.Request.Context(), req.request(middleware.GetUserID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// POST /payments/card
func (h *PaymentHandler) CardPay(c *gin.Context) {
	var req struct {
		checkoutBody
		cardFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.CardPay(c.Request.Context(), req.request(middleware.GetUserID(c)), req.source())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// POST /payments/gpay
func (h *PaymentHandler) GPayPay(c *gin.Context) {
	var req struct {
		checkoutBody
		PaymentData json.RawMessage `json:"payment_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.GPayPay(c.Request.Context(), req.request(middleware.GetUserID(c)), req.PaymentData)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// IOSPay records an Apple Pay charge the app already captured.
// POST /payments/ios
func (h *PaymentHandler) IOSPay(c *gin.Context) {
	var req struct {
		checkoutBody
		ChargeID      string `json:"charge_id"`
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.IOSPay(c.Request.Context(), req.request(middleware.GetUserID(c)), service.CapturedCharge{
		ChargeID:      req.ChargeID,
		Status:        req.Status,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}
