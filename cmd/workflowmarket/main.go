// Package main запускает HTTP-сервер маркетплейса воркфлоу.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/workflow-market/internal/config"
	"github.com/mmeshcher/workflow-market/internal/handler"
	"github.com/mmeshcher/workflow-market/internal/middleware"
	"github.com/mmeshcher/workflow-market/internal/payment"
	"github.com/mmeshcher/workflow-market/internal/repository"
	"github.com/mmeshcher/workflow-market/internal/service"
	"github.com/mmeshcher/workflow-market/internal/storage"
)

func main() {
	envErr := godotenv.Load()

	cfg, cfgErr := config.Parse()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		sugar.Warnw(".env file is not loaded", "error", envErr.Error())
	}
	if cfgErr != nil {
		sugar.Fatalw("configuration error", "error", cfgErr.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var provider payment.Provider
	if cfg.PaymentsEnabled() {
		provider = payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if cfg.StripeWebhookSecret == "" {
			sugar.Warn("STRIPE_WEBHOOK_SECRET is not set, payment webhooks will be rejected")
		}
	} else {
		sugar.Warn("STRIPE_SECRET_KEY is not set, direct purchase is enabled")
	}

	local, err := storage.NewLocalStore(cfg.StorageDir, cfg.MaxUploadBytes)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	store := storage.NewRouter(local, storage.NewRemoteStore(logger))

	svc := service.NewService(repo, provider, store, logger, cfg.Origin)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, sessions will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting workflow market server", "addr", cfg.RunAddress, "payments", cfg.PaymentsEnabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg == nil {
		return zap.NewProduction()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if level.Level() == zap.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
