package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

const defaultKeyPrefix = "ratelimit:generate"

// Config agrega os limites utilizados pelo serviço de rate limiting.
type Config struct {
	Rule       domain.RateLimitRule
	KeyPrefix  string
	FailPolicy domain.FailPolicy
	// Fallback é consultado apenas com FailPolicy = local.
	Fallback ports.LocalLimiter
}

// RateLimiterService implementa o rate gate de janela fixa sobre o counter store.
type RateLimiterService struct {
	storage ports.CounterStore
	config  Config
	logger  *zap.Logger
}

var _ ports.RateLimiter = (*RateLimiterService)(nil)

// NewRateLimiterService cria uma nova instância do serviço.
func NewRateLimiterService(storage ports.CounterStore, cfg Config, logger *zap.Logger) (*RateLimiterService, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Rule.Requests <= 0 || cfg.Rule.Window <= 0 {
		return nil, fmt.Errorf("rate limit rule must have positive values")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.FailPolicy == "" {
		cfg.FailPolicy = domain.FailClosed
	}
	if !cfg.FailPolicy.Valid() {
		return nil, fmt.Errorf("unknown fail policy: %s", cfg.FailPolicy)
	}
	if cfg.FailPolicy == domain.FailLocal && cfg.Fallback == nil {
		return nil, fmt.Errorf("local fail policy requires a fallback limiter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiterService{storage: storage, config: cfg, logger: logger}, nil
}

// Allow incrementa o contador do cliente e decide se a requisição pode prosseguir.
func (s *RateLimiterService) Allow(ctx context.Context, req domain.RateLimitRequest) (domain.Decision, error) {
	key, err := s.buildKey(req)
	if err != nil {
		return domain.Decision{}, err
	}

	limit := s.config.Rule.Requests
	count, ttl, err := s.storage.Increment(ctx, key, s.config.Rule.Window)
	if err != nil {
		return s.degrade(key, err)
	}

	if count > int64(limit) {
		return domain.Decision{Allowed: false, Limit: limit, Count: count, ResetIn: ttl}, domain.ErrRateLimited
	}

	return domain.Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		Count:     count,
		ResetIn:   ttl,
	}, nil
}

func (s *RateLimiterService) degrade(key string, storeErr error) (domain.Decision, error) {
	limit := s.config.Rule.Requests

	switch s.config.FailPolicy {
	case domain.FailOpen:
		s.logger.Warn("counter store failed, admitting request", zap.String("key", key), zap.Error(storeErr))
		return domain.Decision{Allowed: true, Limit: limit, Remaining: limit - 1, Degraded: true}, nil
	case domain.FailLocal:
		s.logger.Warn("counter store failed, using local limiter", zap.String("key", key), zap.Error(storeErr))
		allowed, remaining := s.config.Fallback.Allow(key)
		if !allowed {
			return domain.Decision{Allowed: false, Limit: limit, Degraded: true, ResetIn: s.config.Rule.Window}, domain.ErrRateLimited
		}
		return domain.Decision{Allowed: true, Limit: limit, Remaining: remaining, Degraded: true}, nil
	default:
		return domain.Decision{Limit: limit, Degraded: true}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, storeErr)
	}
}

func (s *RateLimiterService) buildKey(req domain.RateLimitRequest) (string, error) {
	ip := strings.ToLower(strings.TrimSpace(req.IP))
	if ip == "" {
		return "", fmt.Errorf("ip address is required")
	}
	return fmt.Sprintf("%s:%s", s.config.KeyPrefix, ip), nil
}
