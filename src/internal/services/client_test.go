package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmvault/crmvault/src/internal/auth"
)

func TestClientRegisterAndAuthenticate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewClientService(db)

	client, err := svc.Register("Acme", "  Owner@Example.COM ", "hunter22!")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", client.Email)
	assert.NotEqual(t, "hunter22!", client.PasswordHash)

	t.Run("DuplicateEmailRejected", func(t *testing.T) {
		_, err := svc.Register("Other", "owner@example.com", "different1!")
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("CorrectPassword", func(t *testing.T) {
		got, err := svc.Authenticate("owner@example.com", "hunter22!")
		require.NoError(t, err)
		assert.Equal(t, client.ID, got.ID)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := svc.Authenticate("owner@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		_, err := svc.Authenticate("nobody@example.com", "hunter22!")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestClientSaveTwoFactor(t *testing.T) {
	db := setupTestDB(t)
	svc := NewClientService(db)

	client, err := svc.Register("Acme", "owner@example.com", "hunter22!")
	require.NoError(t, err)

	require.NoError(t, svc.SaveTwoFactor(client.ID, "JBSWY3DPEHPK3PXP", true))

	got, err := svc.Get(client.ID)
	require.NoError(t, err)
	assert.True(t, got.TwoFactorEnabled)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", got.TwoFactorSecret)
}
