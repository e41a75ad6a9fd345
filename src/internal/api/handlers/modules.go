package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/viper"

	"github.com/crmvault/crmvault/src/internal/cache"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
	"github.com/crmvault/crmvault/src/internal/zoho"
)

// ModuleLister fetches the remote module catalog. Satisfied by
// *zoho.Client.
type ModuleLister interface {
	ListModules(ctx context.Context) ([]zoho.Module, error)
}

// ModuleListerFactory builds a catalog client for one connection
type ModuleListerFactory func(apiDomain, accessToken string) ModuleLister

// ModulesHandler serves the remote module catalog used by the frontend's
// restore selection UI. Catalogs are cached per connection.
type ModulesHandler struct {
	cfg         *viper.Viper
	connections *services.ConnectionService
	broker      *zoho.TokenBroker
	cache       *cache.CacheManager
	newLister   ModuleListerFactory
	logger      *slog.Logger
}

// NewModulesHandler creates the modules handler. Pass a nil factory to
// use the real Zoho client.
func NewModulesHandler(cfg *viper.Viper, connections *services.ConnectionService, broker *zoho.TokenBroker,
	cacheManager *cache.CacheManager, factory ModuleListerFactory, logger *slog.Logger) *ModulesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = func(apiDomain, accessToken string) ModuleLister {
			return zoho.NewClient(apiDomain, accessToken, logger)
		}
	}
	return &ModulesHandler{
		cfg:         cfg,
		connections: connections,
		broker:      broker,
		cache:       cacheManager,
		newLister:   factory,
		logger:      logger,
	}
}

// List returns the module catalog for a connection
func (h *ModulesHandler) List(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	connID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	conn, err := h.connections.Get(connID)
	if err != nil || conn.ClientID != clientID {
		return echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	if conn.APIDomain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "connection is not authorized")
	}

	ctx := c.Request().Context()
	key := cache.ModulesKey(conn.ID.String())

	var cached []zoho.Module
	if err := h.cache.GetJSON(ctx, key, &cached); err == nil {
		return c.JSON(http.StatusOK, cached)
	}

	modules, err := h.fetch(ctx, conn)
	if err != nil {
		h.logger.Error("failed to fetch module catalog", "connection_id", conn.ID, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to fetch modules from CRM")
	}

	if err := h.cache.SetJSON(ctx, key, modules, cache.TTLModules); err != nil {
		h.logger.Warn("failed to cache module catalog", "connection_id", conn.ID, "error", err)
	}
	return c.JSON(http.StatusOK, modules)
}

func (h *ModulesHandler) fetch(ctx context.Context, conn *models.CRMConnection) ([]zoho.Module, error) {
	accessToken, err := h.broker.Exchange(ctx, conn.RefreshToken)
	if err != nil {
		return nil, err
	}
	return h.newLister(conn.APIDomain, accessToken).ListModules(ctx)
}
