package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPGateway talks to the card gateway's REST API with a secret-key bearer token.
type HTTPGateway struct {
	BaseURL     string
	SecretKey   string
	RedirectURL string
	client      *http.Client
	log         *zap.Logger
}

func NewHTTPGateway(baseURL, secretKey, redirectURL string, timeout time.Duration, log *zap.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		BaseURL:     baseURL,
		SecretKey:   secretKey,
		RedirectURL: redirectURL,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

type idResp struct {
	ID string `json:"id"`
}

type errorResp struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (g *HTTPGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	body := map[string]interface{}{
		"first_name": req.Name,
		"email":      req.Email,
		"metadata":   map[string]string{"reference": req.Reference},
	}
	if req.Phone != "" {
		body["phone"] = map[string]string{"number": req.Phone}
	}
	var out idResp
	if err := g.post(ctx, "/customers", body, &out); err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return out.ID, nil
}

func (g *HTTPGateway) CreateCardToken(ctx context.Context, card Card) (string, error) {
	body := map[string]interface{}{
		"card": map[string]interface{}{
			"number":    card.Number,
			"exp_month": card.ExpMonth,
			"exp_year":  card.ExpYear,
			"cvc":       card.CVC,
			"name":      card.Name,
		},
	}
	var out idResp
	if err := g.post(ctx, "/tokens", body, &out); err != nil {
		return "", fmt.Errorf("create card token: %w", err)
	}
	return out.ID, nil
}

func (g *HTTPGateway) CreateSavedCardToken(ctx context.Context, cardID, customerID string) (string, error) {
	body := map[string]interface{}{
		"saved_card": map[string]string{"card_id": cardID, "customer_id": customerID},
	}
	var out idResp
	if err := g.post(ctx, "/tokens", body, &out); err != nil {
		return "", fmt.Errorf("create saved card token: %w", err)
	}
	return out.ID, nil
}

func (g *HTTPGateway) CreateTokenFromWalletPayload(ctx context.Context, walletType string, payload json.RawMessage) (string, error) {
	body := map[string]interface{}{
		"type":       walletType,
		"token_data": payload,
	}
	var out idResp
	if err := g.post(ctx, "/tokens", body, &out); err != nil {
		return "", fmt.Errorf("create wallet token: %w", err)
	}
	return out.ID, nil
}

func (g *HTTPGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := map[string]interface{}{
		"amount":      req.Amount.StringFixed(3),
		"currency":    req.Currency,
		"description": req.Description,
		"source":      map[string]string{"id": req.SourceID},
		"customer":    map[string]string{"id": req.CustomerID},
		"reference":   map[string]string{"transaction": req.Reference},
		"redirect":    map[string]string{"url": g.RedirectURL},
	}
	var out Charge
	if err := g.post(ctx, "/charges", body, &out); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return &out, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if g.log != nil {
		g.log.Debug("gateway response", zap.String("path", path), zap.Int("status", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResp
		if json.Unmarshal(respBody, &e) == nil && len(e.Errors) > 0 {
			return fmt.Errorf("gateway %s: %d %s: %s", path, resp.StatusCode, e.Errors[0].Code, e.Errors[0].Description)
		}
		return fmt.Errorf("gateway %s: %d", path, resp.StatusCode)
	}
	return json.Unmarshal(respBody, out)
}
