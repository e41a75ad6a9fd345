package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func createTestClient(t *testing.T, db *gorm.DB) *models.Client {
	t.Helper()

	client := &models.Client{
		CompanyName:  "Acme",
		Email:        "acme@example.com",
		PasswordHash: "hash",
	}
	require.NoError(t, db.Create(client).Error)
	return client
}

func createTestConnection(t *testing.T, db *gorm.DB, client *models.Client) *models.CRMConnection {
	t.Helper()

	conn := &models.CRMConnection{
		ClientID:       client.ID,
		CRMType:        models.CRMTypeZoho,
		ConnectionName: "Zoho CRM",
		RefreshToken:   "refresh",
		APIDomain:      "https://www.zohoapis.com",
	}
	require.NoError(t, db.Create(conn).Error)
	return conn
}
