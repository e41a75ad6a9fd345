package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Middleware provides authentication middleware
type Middleware struct {
	authService *AuthService
	skipper     func(c echo.Context) bool
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(authService *AuthService) *Middleware {
	return &Middleware{
		authService: authService,
		skipper:     DefaultSkipper,
	}
}

// DefaultSkipper returns true for paths that don't require authentication
func DefaultSkipper(c echo.Context) bool {
	path := c.Path()

	publicPaths := []string{
		"/",
		"/health",
		"/api/v1/auth/login",
		"/api/v1/auth/register",
		"/api/v1/auth/zoho/callback",
	}

	for _, p := range publicPaths {
		if p == path {
			return true
		}
	}
	return false
}

// Auth returns the authentication middleware handler
func (m *Middleware) Auth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.skipper != nil && m.skipper(c) {
				return next(c)
			}

			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				cookie, err := c.Cookie("access_token")
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication")
				}
				auth = "Bearer " + cookie.Value
			}

			parts := strings.Split(auth, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authentication format")
			}

			claims, err := m.authService.ValidateToken(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.Set("client_id", claims.ClientID)
			c.Set("email", claims.Email)

			return next(c)
		}
	}
}

// ClientID extracts the authenticated client id from the request context
func ClientID(c echo.Context) (uuid.UUID, bool) {
	id, ok := c.Get("client_id").(uuid.UUID)
	return id, ok
}
