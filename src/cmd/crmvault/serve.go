package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/crmvault/crmvault/src/internal/backup"
	"github.com/crmvault/crmvault/src/internal/cache"
	"github.com/crmvault/crmvault/src/internal/config"
	"github.com/crmvault/crmvault/src/internal/database"
	"github.com/crmvault/crmvault/src/internal/email"
	"github.com/crmvault/crmvault/src/internal/scheduler"
	"github.com/crmvault/crmvault/src/internal/server"
	"github.com/crmvault/crmvault/src/pkg/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server and backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			return database.MigrateDB(db, cfg)
		},
	}
}

func newRunAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run every active backup job once, sequentially, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := utils.NewLogger()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			if err := database.MigrateDB(db, cfg); err != nil {
				return err
			}

			runner := backup.NewRunner(db, cfg, nil, nil, logger)
			sched := scheduler.NewScheduler(db, cfg, runner, logger)
			return sched.RunAllActiveJobs()
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := utils.NewLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	if err := database.MigrateDB(db, cfg); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := os.MkdirAll(cfg.GetString("backup.archive_dir"), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	cacheManager := cache.NewCacheManager(cfg)
	defer cacheManager.Close()

	runner := backup.NewRunner(db, cfg, nil, nil, logger)
	if cfg.GetBool("email.enabled") {
		mailer := email.NewMailer(cfg)
		runner.SetNotifier(email.NewNotifier(db, mailer, logger))
	}

	sched := scheduler.NewScheduler(db, cfg, runner, logger)
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg, db, runner, cacheManager, logger)

	port := cfg.GetInt("server.port")
	logger.Info("crmvault starting", "version", Version, "port", port)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func openDatabase(cfg *viper.Viper) (*gorm.DB, error) {
	db, err := database.Initialize(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
