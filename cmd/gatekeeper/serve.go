package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/bootstrap"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/users"
)

var errTestMode = errors.New("refusing to listen in test mode")

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if app.InTestMode() {
		return errTestMode
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundle, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer bundle.Close()

	registry, err := rbac.LoadRegistry(cfg.PermissionCatalog)
	if err != nil {
		return fmt.Errorf("permission catalog: %w", err)
	}
	hasher := users.BcryptHasher{}

	if cfg.StoreDriver == app.StoreDriverMemory {
		if _, err := bootstrap.Seed(ctx, bundle.Store, registry, hasher, seedOptions(cfg), logger); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
	}

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, session login disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	application, err := app.New(app.Options{
		Config:   cfg,
		Logger:   logger,
		Store:    bundle.Store,
		Audit:    bundle.Audit,
		Timeline: bundle.Timeline,
		Registry: registry,
		Redis:    redisClient,
		Hasher:   hasher,
	})
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           application.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func seedOptions(cfg *app.Config) bootstrap.Options {
	return bootstrap.Options{
		AdminUsername: cfg.BootstrapAdminUsername,
		AdminEmail:    cfg.BootstrapAdminEmail,
		AdminPassword: cfg.BootstrapAdminPassword,
	}
}
