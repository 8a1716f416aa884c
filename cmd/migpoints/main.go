// Package main запускает HTTP-сервер сервиса migpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/migpoints/internal/config"
	"github.com/mmeshcher/migpoints/internal/cooldown"
	"github.com/mmeshcher/migpoints/internal/handler"
	"github.com/mmeshcher/migpoints/internal/middleware"
	"github.com/mmeshcher/migpoints/internal/model"
	"github.com/mmeshcher/migpoints/internal/provider"
	"github.com/mmeshcher/migpoints/internal/repository"
	"github.com/mmeshcher/migpoints/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	registry := buildRegistry(cfg, repo)

	selector := provider.NewSelector(registry, logger)
	selector.FallbackToDemo = cfg.FallbackToDemo
	selector.Timeout = cfg.ProviderTimeout

	guard := cooldown.NewGuard(repo, cfg.CooldownWindow)

	svc := service.NewService(repo, registry, selector, guard, service.Options{
		MinWatchRatio:  cfg.MinWatchRatio,
		MaxAdReward:    cfg.MaxAdReward,
		WatchRetention: cfg.WatchRetention,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.SecretKey)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой очистки устаревших событий просмотра
	g.Go(func() error {
		svc.StartRetentionSweeps(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting migpoints server", "addr", cfg.RunAddress)
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

func buildRegistry(cfg *config.Config, stats provider.StatsRecorder) *provider.Registry {
	registry := provider.NewRegistry(provider.DemoName)

	if cfg.AdsterraEnabled {
		registry.Register(model.ProviderRecord{
			Name:            provider.AdsterraName,
			Enabled:         true,
			Priority:        5,
			DefaultDuration: 10,
			MaxReward:       cfg.MaxAdReward,
		}, provider.NewAdsterraProvider(stats))
	}

	if cfg.AdNetworkURL != "" && cfg.AdNetworkKey != "" {
		registry.Register(model.ProviderRecord{
			Name:            "adnetwork",
			Enabled:         true,
			Priority:        3,
			DefaultDuration: 30,
			MaxReward:       cfg.MaxAdReward,
		}, provider.NewNetworkProvider(provider.NetworkConfig{
			Name:            "adnetwork",
			BaseURL:         cfg.AdNetworkURL,
			APIKey:          cfg.AdNetworkKey,
			DefaultDuration: 30,
			Timeout:         cfg.ProviderTimeout,
		}, stats))
	}

	registry.Register(model.ProviderRecord{
		Name:            provider.DemoName,
		Enabled:         true,
		Priority:        1,
		DefaultDuration: 30,
		MaxReward:       cfg.MaxAdReward,
	}, provider.NewDemoProvider(stats))

	return registry
}
