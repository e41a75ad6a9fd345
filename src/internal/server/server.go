package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	apiMiddleware "github.com/crmvault/crmvault/src/internal/api/middleware"
	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/cache"
)

// Server is the portal's HTTP server
type Server struct {
	echo      *echo.Echo
	cfg       *viper.Viper
	db        *gorm.DB
	cache     *cache.CacheManager
	runner    *backup.Runner
	logger    *slog.Logger
	startTime time.Time
}

// New creates a server wired to the given database and job runner
func New(cfg *viper.Viper, db *gorm.DB, runner *backup.Runner, cacheManager *cache.CacheManager, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewEchoValidator()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		db:        db,
		cache:     cacheManager,
		runner:    runner,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Start begins serving on the given address
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "  ${time_rfc3339} | ${status} | ${latency_human} | ${method} ${uri}\n",
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(apiMiddleware.CORS(s.cfg))
	s.echo.Use(apiMiddleware.RateLimit(s.cfg))
}

func (s *Server) health(c echo.Context) error {
	status := "healthy"
	dbState := "healthy"
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.Ping() != nil {
		status = "unhealthy"
		dbState = "critical"
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": status,
		"uptime": time.Since(s.startTime).String(),
		"components": map[string]string{
			"database": dbState,
		},
	})
}
