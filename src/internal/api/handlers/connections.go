package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crmvault/crmvault/src/internal/cache"
	"github.com/crmvault/crmvault/src/internal/database/models"
	"github.com/crmvault/crmvault/src/internal/services"
)

// ConnectionHandler serves CRUD operations on CRM connections
type ConnectionHandler struct {
	connections *services.ConnectionService
	cache       *cache.CacheManager
}

// NewConnectionHandler creates the connection handler
func NewConnectionHandler(connections *services.ConnectionService, cacheManager *cache.CacheManager) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, cache: cacheManager}
}

type connectionResponse struct {
	ID             string `json:"id"`
	CRMType        string `json:"crm_type"`
	ConnectionName string `json:"connection_name"`
	Authorized     bool   `json:"authorized"`
	CreatedAt      string `json:"created_at"`
}

func toConnectionResponse(conn *models.CRMConnection) connectionResponse {
	return connectionResponse{
		ID:             conn.ID.String(),
		CRMType:        conn.CRMType,
		ConnectionName: conn.ConnectionName,
		Authorized:     conn.APIDomain != "",
		CreatedAt:      conn.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// List returns the authenticated client's connections. Refresh tokens
// never leave the server.
func (h *ConnectionHandler) List(c echo.Context) error {
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}

	conns, err := h.connections.ListForClient(clientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}

	out := make([]connectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, toConnectionResponse(&conns[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// owned loads a connection and verifies the caller owns it
func (h *ConnectionHandler) owned(c echo.Context) (*models.CRMConnection, error) {
	clientID, err := requireClient(c)
	if err != nil {
		return nil, err
	}
	connID, err := parseID(c, "id")
	if err != nil {
		return nil, err
	}

	conn, err := h.connections.Get(connID)
	if err != nil {
		if errors.Is(err, services.ErrConnectionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "connection not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load connection")
	}
	if conn.ClientID != clientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	return conn, nil
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// Rename updates a connection's display name
func (h *ConnectionHandler) Rename(c echo.Context) error {
	conn, err := h.owned(c)
	if err != nil {
		return err
	}

	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	updated, err := h.connections.UpdateName(conn.ID, req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to rename connection")
	}
	return c.JSON(http.StatusOK, toConnectionResponse(updated))
}

// Delete removes a connection and deactivates its jobs
func (h *ConnectionHandler) Delete(c echo.Context) error {
	conn, err := h.owned(c)
	if err != nil {
		return err
	}

	if err := h.connections.Delete(conn.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete connection")
	}
	h.cache.Delete(c.Request().Context(), cache.ModulesKey(conn.ID.String()))
	return c.NoContent(http.StatusNoContent)
}
