package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStringifyData(t *testing.T) {
	out := stringifyData("PAYMENT_REFUND", map[string]interface{}{
		"payment_id": uint(12),
		"ordered":    3,
		"points":     int64(-40),
		"charge_id":  "chg_1",
		"amount":     decimal.RequireFromString("1.250"),
		"partial":    true,
	})
	assert.Equal(t, map[string]string{
		"type":       "PAYMENT_REFUND",
		"payment_id": "12",
		"ordered":    "3",
		"points":     "-40",
		"charge_id":  "chg_1",
		"amount":     "1.25",
		"partial":    "true",
	}, out)
}

func TestNilFCMServiceDropsPush(t *testing.T) {
	var s *FCMService
	assert.NoError(t, s.SendToUser(context.Background(), "token", "X", "t", "b", nil))
	assert.NoError(t, s.Send(context.Background(), "token", "t", "b", nil))
}
