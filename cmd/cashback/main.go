// Package main запускает HTTP-сервер сервиса лояльности.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cashback-core/internal/cache"
	"github.com/mmeshcher/cashback-core/internal/config"
	"github.com/mmeshcher/cashback-core/internal/handler"
	"github.com/mmeshcher/cashback-core/internal/middleware"
	"github.com/mmeshcher/cashback-core/internal/model"
	"github.com/mmeshcher/cashback-core/internal/repository"
	"github.com/mmeshcher/cashback-core/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil {
		sugar.Infow("no .env file loaded", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	defaults, err := programDefaults(cfg)
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Infow("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	opts := []service.Option{service.WithSystemBranch(cfg.SystemBranchID)}

	if cfg.RedisAddress != "" {
		redisClient, err := cache.NewRedisClient(cache.RedisConfig{Address: cfg.RedisAddress})
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer redisClient.Close()

		opts = append(opts, service.WithCouponReserver(cache.NewCouponReserver(redisClient, cache.DefaultReservationTTL)))
	}

	svc := service.NewService(repo, logger, opts...)
	defer svc.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	err = svc.EnsureSettings(initCtx, defaults)
	cancelInit()
	if err != nil {
		sugar.Fatalw("program settings initialization error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновое сгорание баллов
	g.Go(func() error {
		svc.StartExpirationSweeps(ctx, cfg.ExpirationSweepInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting cashback server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

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

func programDefaults(cfg *config.Config) (model.ProgramSettings, error) {
	perReal, err := decimal.NewFromString(cfg.PointsPerReal)
	if err != nil {
		return model.ProgramSettings{}, fmt.Errorf("parse POINTS_PER_REAL: %w", err)
	}

	minPurchase, err := decimal.NewFromString(cfg.MinPurchaseValue)
	if err != nil {
		return model.ProgramSettings{}, fmt.Errorf("parse MIN_PURCHASE_VALUE: %w", err)
	}

	return model.ProgramSettings{
		Policy: model.DuplicatePolicy{
			AllowDuplicateEmail: cfg.AllowDuplicateEmail,
			AllowDuplicatePhone: cfg.AllowDuplicatePhone,
		},
		PointsPerReal:    perReal,
		MinPurchaseValue: minPurchase,
		Expiration: model.ExpirationSettings{
			Enabled: cfg.PointsExpirationDays > 0,
			Days:    cfg.PointsExpirationDays,
		},
	}, nil
}
