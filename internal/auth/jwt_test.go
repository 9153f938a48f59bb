package auth

import (
	"testing"
	"time"

	"vendpay/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: time.Minute, Issuer: "vendpay"}

	tok, err := GenerateAccessToken(cfg, 42, "a@example.com")
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestParseAccessToken_Rejects(t *testing.T) {
	cfg := &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: time.Minute}
	other := &config.JWTConfig{AccessSecret: "other", AccessExpiry: time.Minute}
	expired := &config.JWTConfig{AccessSecret: "s3cret", AccessExpiry: -time.Minute}

	wrongKey, _ := GenerateAccessToken(other, 1, "")
	_, err := ParseAccessToken(cfg, wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, _ := GenerateAccessToken(expired, 1, "")
	_, err = ParseAccessToken(cfg, old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseAccessToken(cfg, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
