package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/adapters/http/handlers"
	"github.com/JeanGrijp/code-companion/internal/adapters/inference/ollama"
	"github.com/JeanGrijp/code-companion/internal/adapters/storage/local"
	"github.com/JeanGrijp/code-companion/internal/adapters/storage/memory"
	redisstorage "github.com/JeanGrijp/code-companion/internal/adapters/storage/redis"
	"github.com/JeanGrijp/code-companion/internal/config"
	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
	"github.com/JeanGrijp/code-companion/internal/core/services"
	"github.com/JeanGrijp/code-companion/internal/logging"
	"github.com/JeanGrijp/code-companion/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeFn, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer closeFn()

	var fallback ports.LocalLimiter
	if cfg.RateLimiter.FailPolicy == domain.FailLocal {
		localLimiter := local.New(cfg.RateLimiter.Rule.Requests, cfg.RateLimiter.Rule.Window)
		localLimiter.StartJanitor(ctx)
		fallback = localLimiter
	}

	limiter, err := services.NewRateLimiterService(storage, services.Config{
		Rule:       cfg.RateLimiter.Rule,
		KeyPrefix:  cfg.RateLimiter.KeyPrefix,
		FailPolicy: cfg.RateLimiter.FailPolicy,
		Fallback:   fallback,
	}, logger.Named("ratelimit"))
	if err != nil {
		return fmt.Errorf("create limiter: %w", err)
	}

	inference, err := ollama.New(ollama.Config{
		URL:            cfg.Ollama.URL,
		Timeout:        cfg.Ollama.Timeout,
		ErrorBodyLimit: cfg.Ollama.ErrorBodyLimit,
		Logger:         logger.Named("ollama"),
	})
	if err != nil {
		return fmt.Errorf("create ollama client: %w", err)
	}

	m := metrics.New()
	generator, err := services.NewGenerationService(limiter, inference, logger.Named("generate"), services.WithObserver(m))
	if err != nil {
		return fmt.Errorf("create generation service: %w", err)
	}

	router := handlers.NewRouter(handlers.New(generator, storage, logger), handlers.RouterConfig{
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Metrics:           m.Handler(),
		Logger:            logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("ollama_url", cfg.Ollama.URL),
			zap.Int("rate_limit_requests", cfg.RateLimiter.Rule.Requests),
			zap.Duration("rate_limit_window", cfg.RateLimiter.Rule.Window),
			zap.String("fail_policy", string(cfg.RateLimiter.FailPolicy)),
		)
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// initStorage não falha quando o Redis está fora: o processo sobe, /health
// reporta "inactive" e a fail policy decide o destino das requisições.
func initStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (ports.CounterStore, func(), error) {
	switch cfg.Storage.Type {
	case "redis":
		storage, err := redisstorage.New(redisstorage.Config{URL: cfg.Storage.Redis.URL})
		if err != nil {
			return nil, nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := storage.Ping(pingCtx); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
		} else {
			logger.Info("redis connected successfully")
		}

		return storage, func() {
			if err := storage.Close(); err != nil {
				logger.Warn("failed to close redis storage", zap.Error(err))
			}
		}, nil
	case "memory":
		logger.Warn("using in-memory counter store (not shared across instances)")
		storage := memory.New()
		storage.StartJanitor(ctx, cfg.RateLimiter.Rule.Window)
		return storage, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
