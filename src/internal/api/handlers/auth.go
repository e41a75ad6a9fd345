package handlers

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"github.com/crmvault/crmvault/src/internal/auth"
	"github.com/crmvault/crmvault/src/internal/cache"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
	"github.com/crmvault/crmvault/src/internal/zoho"
)

// AuthHandler serves portal registration, login and the Zoho OAuth flow
type AuthHandler struct {
	cfg         *viper.Viper
	clients     *services.ClientService
	connections *services.ConnectionService
	sessions    *auth.AuthService
	totp        *auth.TOTPService
	broker      *zoho.TokenBroker
	cache       *cache.CacheManager
	logger      *slog.Logger
}

// NewAuthHandler creates the auth handler
func NewAuthHandler(cfg *viper.Viper, clients *services.ClientService, connections *services.ConnectionService,
	sessions *auth.AuthService, totp *auth.TOTPService, broker *zoho.TokenBroker,
	cacheManager *cache.CacheManager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:         cfg,
		clients:     clients,
		connections: connections,
		sessions:    sessions,
		totp:        totp,
		broker:      broker,
		cache:       cacheManager,
		logger:      logger,
	}
}

type registerRequest struct {
	CompanyName string `json:"company_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code"`
}

type clientResponse struct {
	ID               uuid.UUID `json:"id"`
	CompanyName      string    `json:"company_name"`
	Email            string    `json:"email"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
}

func toClientResponse(client *models.Client) clientResponse {
	return clientResponse{
		ID:               client.ID,
		CompanyName:      client.CompanyName,
		Email:            client.Email,
		TwoFactorEnabled: client.TwoFactorEnabled,
	}
}

// Register creates a new portal account
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	client, err := h.clients.Register(req.CompanyName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, "email already registered")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}

	return c.JSON(http.StatusCreated, toClientResponse(client))
}

// Login authenticates a client and issues a session token
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	client, err := h.clients.Authenticate(req.Email, req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	if client.TwoFactorEnabled {
		if req.TOTPCode == "" || !h.totp.ValidateTOTP(client.TwoFactorSecret, req.TOTPCode) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid two-factor code")
		}
	}

	token, expiresAt, err := h.sessions.GenerateToken(client)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"client":     toClientResponse(client),
	})
}

// Me returns the authenticated client's profile
func (h *AuthHandler) Me(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	client, err := h.clients.Get(clientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return c.JSON(http.StatusOK, toClientResponse(client))
}

// TwoFactorSetup generates a fresh TOTP enrollment for the client
func (h *AuthHandler) TwoFactorSetup(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	client, err := h.clients.Get(clientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}

	setup, err := h.totp.GenerateTOTP(client.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate enrollment")
	}
	return c.JSON(http.StatusOK, setup)
}

type twoFactorEnableRequest struct {
	Secret string `json:"secret" validate:"required"`
	Code   string `json:"code" validate:"required"`
}

// TwoFactorEnable verifies the enrollment code and enables 2FA
func (h *AuthHandler) TwoFactorEnable(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}

	var req twoFactorEnableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if !h.totp.ValidateTOTP(req.Secret, req.Code) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid verification code")
	}
	if err := h.clients.SaveTwoFactor(clientID, req.Secret, true); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enable two-factor")
	}
	return c.NoContent(http.StatusNoContent)
}

// ZohoConnect returns the OAuth consent URL for the authenticated client.
// The client id rides in the state parameter so the callback can attribute
// the grant.
func (h *AuthHandler) ZohoConnect(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}

	state := base64.URLEncoding.EncodeToString([]byte(clientID.String()))
	return c.JSON(http.StatusOK, map[string]string{
		"url": h.broker.AuthorizeURL(state),
	})
}

// ZohoCallback completes the OAuth flow. Zoho redirects the browser here
// with an authorization code; the exchanged grant is persisted on the
// client's connection and the browser is sent back to the frontend.
func (h *AuthHandler) ZohoCallback(c echo.Context) error {
	frontend := h.cfg.GetString("server.frontend_url")

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return c.Redirect(http.StatusFound, frontend+"/connections?error=missing_code")
	}

	raw, err := base64.URLEncoding.DecodeString(state)
	if err != nil {
		return c.Redirect(http.StatusFound, frontend+"/connections?error=bad_state")
	}
	clientID, err := uuid.Parse(string(raw))
	if err != nil {
		return c.Redirect(http.StatusFound, frontend+"/connections?error=bad_state")
	}

	grant, err := h.broker.ExchangeCode(c.Request().Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", "client_id", clientID, "error", err)
		return c.Redirect(http.StatusFound, frontend+"/connections?error=exchange_failed")
	}

	conn, err := h.connections.Upsert(clientID, models.CRMTypeZoho, "Zoho CRM",
		grant.RefreshToken, grant.APIDomain)
	if err != nil {
		h.logger.Error("failed to persist connection", "client_id", clientID, "error", err)
		return c.Redirect(http.StatusFound, frontend+"/connections?error=save_failed")
	}

	// A re-auth may point at a different account; drop any cached catalog
	h.cache.Delete(c.Request().Context(), cache.ModulesKey(conn.ID.String()))

	h.logger.Info("connection authorized", "client_id", clientID, "connection_id", conn.ID)
	return c.Redirect(http.StatusFound, frontend+"/connections?connected=zoho")
}
