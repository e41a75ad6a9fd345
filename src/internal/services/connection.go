package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/database/models"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
)

// ConnectionService manages authorized CRM connections
type ConnectionService struct {
	db *gorm.DB
}

// NewConnectionService creates a new connection service
func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{db: db}
}

// Upsert creates or updates the connection for a (client, crm type) pair
// after a successful OAuth exchange. A soft-deleted connection is revived:
// re-authorizing is how a client reconnects a removed account.
func (s *ConnectionService) Upsert(clientID uuid.UUID, crmType, name, refreshToken, apiDomain string) (*models.CRMConnection, error) {
	var conn models.CRMConnection
	err := s.db.Unscoped().
		Where("client_id = ? AND crm_type = ?", clientID, crmType).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conn = models.CRMConnection{
			ClientID:       clientID,
			CRMType:        crmType,
			ConnectionName: name,
			RefreshToken:   refreshToken,
			APIDomain:      apiDomain,
		}
		if err := s.db.Create(&conn).Error; err != nil {
			return nil, fmt.Errorf("failed to create connection: %w", err)
		}
		return &conn, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up connection: %w", err)
	}

	conn.ConnectionName = name
	conn.APIDomain = apiDomain
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.DeletedAt = gorm.DeletedAt{}
	if err := s.db.Unscoped().Save(&conn).Error; err != nil {
		return nil, fmt.Errorf("failed to update connection: %w", err)
	}
	return &conn, nil
}

// UpdateName renames a connection
func (s *ConnectionService) UpdateName(connectionID uuid.UUID, name string) (*models.CRMConnection, error) {
	conn, err := s.Get(connectionID)
	if err != nil {
		return nil, err
	}
	conn.ConnectionName = name
	if err := s.db.Save(conn).Error; err != nil {
		return nil, fmt.Errorf("failed to rename connection: %w", err)
	}
	return conn, nil
}

// Get returns a connection by id
func (s *ConnectionService) Get(connectionID uuid.UUID) (*models.CRMConnection, error) {
	var conn models.CRMConnection
	err := s.db.First(&conn, "id = ?", connectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return &conn, nil
}

// GetForClient returns a client's connection of the given CRM type
func (s *ConnectionService) GetForClient(clientID uuid.UUID, crmType string) (*models.CRMConnection, error) {
	var conn models.CRMConnection
	err := s.db.Where("client_id = ? AND crm_type = ?", clientID, crmType).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return &conn, nil
}

// ListForClient returns a client's active connections
func (s *ConnectionService) ListForClient(clientID uuid.UUID) ([]models.CRMConnection, error) {
	var conns []models.CRMConnection
	if err := s.db.Where("client_id = ?", clientID).Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// Delete soft-deletes a connection and deactivates its jobs so the
// scheduler stops picking them up. History stays intact.
func (s *ConnectionService) Delete(connectionID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.CRMConnection{}, "id = ?", connectionID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete connection: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConnectionNotFound
		}

		if err := tx.Model(&models.BackupJob{}).
			Where("connection_id = ?", connectionID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate jobs: %w", err)
		}
		return nil
	})
}
