package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22!")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22!", hash)

	assert.True(t, CheckPasswordHash("hunter22!", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", "crmvault", time.Hour)

	client := &models.Client{Email: "owner@example.com"}
	client.ID = uuid.New()

	token, expiresAt, err := svc.GenerateToken(client)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, client.ID, claims.ClientID)
	assert.Equal(t, "owner@example.com", claims.Email)
}

func TestTokenValidationFailures(t *testing.T) {
	svc := NewAuthService("test-secret", "crmvault", time.Hour)
	client := &models.Client{Email: "owner@example.com"}
	client.ID = uuid.New()

	t.Run("WrongSecret", func(t *testing.T) {
		token, _, err := svc.GenerateToken(client)
		require.NoError(t, err)

		other := NewAuthService("different-secret", "crmvault", time.Hour)
		_, err = other.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		shortLived := NewAuthService("test-secret", "crmvault", time.Nanosecond)
		token, _, err := shortLived.GenerateToken(client)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		_, err = shortLived.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestTOTPRoundTrip(t *testing.T) {
	svc := NewTOTPService("CRM Vault")

	setup, err := svc.GenerateTOTP("owner@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.URL, "CRM")
	assert.Contains(t, setup.QRCode, "data:image/png;base64,")

	assert.False(t, svc.ValidateTOTP(setup.Secret, "000000"))
}
