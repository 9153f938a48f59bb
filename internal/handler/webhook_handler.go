package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"vendpay/internal/domain"
	"vendpay/internal/metrics"
	"vendpay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Reconciler interface {
	HandleGatewayEvent(ctx context.Context, body []byte) (*service.GatewayOutcome, error)
	HandleDispense(ctx context.Context, req service.DispenseRequest) (*service.DispenseOutcome, error)
}

// WebhookHandler receives gateway status callbacks and machine dispense confirmations.
// Each source has its own signing secret; an empty secret disables the check.
type WebhookHandler struct {
	recon          Reconciler
	gatewaySecret  string
	dispenseSecret string
	log            *zap.Logger
}

func NewWebhookHandler(recon Reconciler, gatewaySecret, dispenseSecret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{recon: recon, gatewaySecret: gatewaySecret, dispenseSecret: dispenseSecret, log: log}
}

// Gateway applies a charge status event. Unknown charges are acknowledged so the gateway
// stops retrying them.
// POST /webhooks/gateway
func (h *WebhookHandler) Gateway(c *gin.Context) {
	body, ok := h.readSigned(c, "gateway", h.gatewaySecret)
	if !ok {
		return
	}
	out, err := h.recon.HandleGatewayEvent(c.Request.Context(), body)
	if err != nil {
		h.log.Warn("gateway webhook failed", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "result": out.Result, "status": out.Status})
}

// Dispense records which items a machine released for a payment.
// POST /webhooks/dispense
func (h *WebhookHandler) Dispense(c *gin.Context) {
	body, ok := h.readSigned(c, "dispense", h.dispenseSecret)
	if !ok {
		return
	}
	var req service.DispenseRequest
	if err := json.Unmarshal(body, &req); err != nil || req.PaymentID == 0 {
		metrics.RecordWebhook("dispense", "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment_id and vend_items are required"})
		return
	}
	out, err := h.recon.HandleDispense(c.Request.Context(), req)
	if err != nil {
		if domain.KindOf(err) != domain.KindNoDispenseData {
			h.log.Error("dispense webhook failed", zap.Uint("payment_id", req.PaymentID), zap.Error(err))
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":        true,
		"result":          out.Result,
		"total_ordered":   out.TotalOrdered,
		"total_dispensed": out.TotalDispensed,
		"partial":         out.Partial,
		"unmatched":       out.Unmatched,
	})
}

func (h *WebhookHandler) readSigned(c *gin.Context, source, secret string) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return nil, false
	}
	if secret != "" && !verifySignature(secret, body, c.GetHeader("X-Webhook-Signature")) {
		metrics.RecordWebhook(source, "bad_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return nil, false
	}
	return body, true
}

// verifySignature checks a hex HMAC-SHA256 of the raw body.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
