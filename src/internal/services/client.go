package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/auth"
	"github.com/crmvault/crmvault/src/internal/database/models"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrEmailTaken     = errors.New("email already registered")
)

// ClientService manages portal accounts
type ClientService struct {
	db *gorm.DB
}

// NewClientService creates a new client service
func NewClientService(db *gorm.DB) *ClientService {
	return &ClientService{db: db}
}

// Register creates a new client account with a hashed password
func (s *ClientService) Register(companyName, email, password string) (*models.Client, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var count int64
	if err := s.db.Model(&models.Client{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	client := &models.Client{
		CompanyName:  companyName,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.db.Create(client).Error; err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// Authenticate verifies a client's credentials
func (s *ClientService) Authenticate(email, password string) (*models.Client, error) {
	client, err := s.GetByEmail(email)
	if err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	if !auth.CheckPasswordHash(password, client.PasswordHash) {
		return nil, auth.ErrInvalidCredentials
	}
	return client, nil
}

// Get returns a client by id
func (s *ClientService) Get(clientID uuid.UUID) (*models.Client, error) {
	var client models.Client
	err := s.db.First(&client, "id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return &client, nil
}

// GetByEmail returns a client by email address
func (s *ClientService) GetByEmail(email string) (*models.Client, error) {
	var client models.Client
	err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return &client, nil
}

// List returns all client accounts
func (s *ClientService) List() ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

// SaveTwoFactor persists a client's TOTP enrollment
func (s *ClientService) SaveTwoFactor(clientID uuid.UUID, secret string, enabled bool) error {
	return s.db.Model(&models.Client{}).
		Where("id = ?", clientID).
		Updates(map[string]interface{}{
			"two_factor_secret":  secret,
			"two_factor_enabled": enabled,
		}).Error
}
