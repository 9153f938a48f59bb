package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// StubGateway is a no-op gateway for development; every charge is captured.
type StubGateway struct {
	seq atomic.Int64
}

func (s *StubGateway) next(prefix string) string {
	return fmt.Sprintf("%s_stub_%d_%d", prefix, time.Now().UnixNano(), s.seq.Add(1))
}

func (s *StubGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	return s.next("cus"), nil
}

func (s *StubGateway) CreateCardToken(ctx context.Context, card Card) (string, error) {
	return s.next("tok"), nil
}

func (s *StubGateway) CreateSavedCardToken(ctx context.Context, cardID, customerID string) (string, error) {
	return s.next("tok"), nil
}

func (s *StubGateway) CreateTokenFromWalletPayload(ctx context.Context, walletType string, payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("empty %s payload", walletType)
	}
	return s.next("tok"), nil
}

func (s *StubGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	c := &Charge{ID: s.next("chg"), Status: "CAPTURED"}
	c.Transaction.AuthorizationID = s.next("auth")
	return c, nil
}
