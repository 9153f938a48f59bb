package payment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Gateway is the subset of the card gateway API that settlement calls. Errors are fatal
// to the request that triggered them.
type Gateway interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCardToken(ctx context.Context, card Card) (string, error)
	CreateSavedCardToken(ctx context.Context, cardID, customerID string) (string, error)
	CreateTokenFromWalletPayload(ctx context.Context, walletType string, payload json.RawMessage) (string, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

type CustomerRequest struct {
	Name      string
	Email     string
	Phone     string
	Reference string
}

type Card struct {
	Number   string `json:"number" binding:"required"`
	ExpMonth int    `json:"exp_month" binding:"required,min=1,max=12"`
	ExpYear  int    `json:"exp_year" binding:"required"`
	CVC      string `json:"cvc" binding:"required"`
	Name     string `json:"name"`
}

type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	SourceID    string
	CustomerID  string
	Description string
	// Reference is our internal transaction id, echoed back by the gateway.
	Reference string
}

type Charge struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Transaction struct {
		AuthorizationID string `json:"authorization_id"`
	} `json:"transaction"`
}

var declinedStatuses = map[string]bool{
	"DECLINED":   true,
	"FAILED":     true,
	"CANCELLED":  true,
	"ABANDONED":  true,
	"RESTRICTED": true,
	"VOID":       true,
	"TIMEDOUT":   true,
	"UNKNOWN":    true,
}

// Declined reports whether the gateway refused the charge even though the call succeeded.
func (c *Charge) Declined() bool {
	return c.Status == "" || declinedStatuses[strings.ToUpper(c.Status)]
}
