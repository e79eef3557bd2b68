// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server wires the recovery service together and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lunahealth/recovery/internal/config"
	"github.com/lunahealth/recovery/internal/database"
	"github.com/lunahealth/recovery/internal/directory"
	"github.com/lunahealth/recovery/internal/handlers"
	"github.com/lunahealth/recovery/internal/i18n"
	"github.com/lunahealth/recovery/internal/redisstore"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/lunahealth/recovery/internal/services/email"
	"github.com/lunahealth/recovery/internal/services/recovery"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// sweepInterval is how often expired recovery records are purged from SQLite.
const sweepInterval = 10 * time.Minute

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting recovery service",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	// Database (also runs migrations)
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()

	// i18n
	if initErr := i18n.Init(); initErr != nil {
		return fmt.Errorf("failed to init i18n: %w", initErr)
	}

	repo := repository.New(db)
	dir := directory.NewSQL(repo)

	// Recovery store: Redis when configured, SQLite otherwise. Records in
	// Redis age out via key TTLs; the SQLite store needs a periodic sweep.
	var store recovery.Store = repo
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			return fmt.Errorf("failed to connect to redis: %w", pingErr)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("failed to close redis client", "error", closeErr)
			}
		}()
		store = redisstore.New(rdb, cfg.Recovery.CommitGrace)
		slog.Info("using redis recovery store", "addr", cfg.Redis.Addr)
	} else {
		sweepCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go sweepExpired(sweepCtx, repo, cfg.Recovery.CommitGrace)
	}

	// Mailer
	mailer, err := email.NewService(&cfg.SMTP)
	if err != nil {
		return fmt.Errorf("failed to set up mailer: %w", err)
	}

	svc := recovery.NewService(store, dir, mailer, cfg.Recovery)

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupMiddleware(e, cfg)
	setupRoutes(e, svc)

	return startWithGracefulShutdown(e, cfg)
}

func setupRoutes(e *echo.Echo, svc *recovery.Service) {
	h := handlers.New(svc)

	e.GET("/health", h.Health)
	e.POST("/request-otp", h.RequestOTP)
	e.POST("/verify-otp", h.VerifyOTP)
	e.POST("/update-password", h.UpdatePassword)
	e.POST("/send-reset-link", h.SendResetLink)
	e.POST("/reset-password", h.ResetPassword)
}

// sweepExpired periodically removes expired recovery records. The retention
// keeps records queryable through the commit grace window before deletion.
func sweepExpired(ctx context.Context, repo *repository.Repository, retention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := repo.DeleteExpiredRecoveryRecords(ctx, retention)
			if err != nil {
				slog.Error("failed to sweep expired recovery records", "error", err)
				continue
			}
			if count > 0 {
				slog.Debug("swept expired recovery records", "count", count)
			}
		}
	}
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
