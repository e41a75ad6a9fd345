package server

import (
	"github.com/crmvault/crmvault/src/internal/api/handlers"
	"github.com/crmvault/crmvault/src/internal/auth"
	"github.com/crmvault/crmvault/src/internal/services"
	"github.com/crmvault/crmvault/src/internal/zoho"
)

func (s *Server) setupRoutes() {
	clientService := services.NewClientService(s.db)
	connectionService := services.NewConnectionService(s.db)
	jobService := services.NewJobService(s.db)
	historyService := services.NewHistoryService(s.db)

	authService := auth.NewAuthService(
		s.cfg.GetString("security.secret_key"),
		"crmvault",
		s.cfg.GetDuration("security.jwt.token_ttl"),
	)
	totpService := auth.NewTOTPService("CRM Vault")
	broker := zoho.NewTokenBroker(s.cfg)

	authHandler := handlers.NewAuthHandler(s.cfg, clientService, connectionService,
		authService, totpService, broker, s.cache, s.logger)
	connectionHandler := handlers.NewConnectionHandler(connectionService, s.cache)
	jobHandler := handlers.NewJobHandler(jobService, connectionService, s.runner)
	historyHandler := handlers.NewHistoryHandler(s.cfg, historyService, jobService, connectionService)
	modulesHandler := handlers.NewModulesHandler(s.cfg, connectionService, broker, s.cache, nil, s.logger)

	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api/v1")
	api.Use(auth.NewMiddleware(authService).Auth())

	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/2fa/setup", authHandler.TwoFactorSetup)
	api.POST("/auth/2fa/enable", authHandler.TwoFactorEnable)
	api.GET("/auth/zoho/connect", authHandler.ZohoConnect)
	api.GET("/auth/zoho/callback", authHandler.ZohoCallback)

	api.GET("/connections", connectionHandler.List)
	api.PUT("/connections/:id", connectionHandler.Rename)
	api.DELETE("/connections/:id", connectionHandler.Delete)
	api.GET("/connections/:id/modules", modulesHandler.List)
	api.POST("/connections/:id/jobs", jobHandler.Create)
	api.GET("/connections/:id/jobs", jobHandler.List)

	api.PUT("/jobs/:id", jobHandler.Update)
	api.DELETE("/jobs/:id", jobHandler.Delete)
	api.POST("/jobs/:id/run", jobHandler.Run)
	api.POST("/jobs/:id/restore", jobHandler.Restore)
	api.POST("/jobs/:id/cancel", jobHandler.Cancel)
	api.GET("/jobs/:id/history", historyHandler.ListByJob)

	api.GET("/history/:id", historyHandler.Get)
	api.GET("/history/:id/download", historyHandler.Download)
}
