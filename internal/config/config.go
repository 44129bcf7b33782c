// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Ollama      OllamaConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port string
	// TrustProxyHeaders habilita X-Forwarded-For/X-Real-IP na identificação do cliente.
	TrustProxyHeaders bool
}

type StorageConfig struct {
	Type  string
	Redis RedisConfig
}

type RedisConfig struct {
	URL string
}

type RateLimiterConfig struct {
	Rule       domain.RateLimitRule
	KeyPrefix  string
	FailPolicy domain.FailPolicy
}

type OllamaConfig struct {
	URL            string
	Timeout        time.Duration
	ErrorBodyLimit int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(getEnv)
}

// FromEnv monta a configuração a partir de uma função de lookup, permitindo testes sem tocar no ambiente.
func FromEnv(lookup func(key, fallback string) string) (Config, error) {
	trustProxy, err := strconv.ParseBool(lookup("TRUST_PROXY_HEADERS", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TRUST_PROXY_HEADERS: %w", err)
	}

	storageType := strings.ToLower(lookup("STORAGE_TYPE", "redis"))
	if storageType != "redis" && storageType != "memory" {
		return Config{}, fmt.Errorf("unsupported STORAGE_TYPE: %s", storageType)
	}

	rateLimiterConfig, err := buildRateLimiterConfig(lookup)
	if err != nil {
		return Config{}, err
	}

	ollamaConfig, err := buildOllamaConfig(lookup)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{
			Port:              lookup("SERVER_PORT", "8000"),
			TrustProxyHeaders: trustProxy,
		},
		Storage: StorageConfig{
			Type:  storageType,
			Redis: RedisConfig{URL: lookup("REDIS_URL", "redis://localhost:6379")},
		},
		RateLimiter: rateLimiterConfig,
		Ollama:      ollamaConfig,
		Log: LogConfig{
			Level:  lookup("LOG_LEVEL", "info"),
			Format: lookup("LOG_FORMAT", "json"),
		},
	}, nil
}

func buildRateLimiterConfig(lookup func(string, string) string) (RateLimiterConfig, error) {
	requests, err := strconv.Atoi(lookup("RATE_LIMIT_REQUESTS", "5"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: %w", err)
	}
	if requests <= 0 {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: must be positive")
	}

	windowSeconds, err := strconv.Atoi(lookup("RATE_LIMIT_WINDOW_SECONDS", "60"))
	if err != nil {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}
	if windowSeconds <= 0 {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS: must be positive")
	}

	policy := domain.FailPolicy(strings.ToLower(lookup("RATE_LIMIT_FAIL_POLICY", string(domain.FailClosed))))
	if !policy.Valid() {
		return RateLimiterConfig{}, fmt.Errorf("invalid RATE_LIMIT_FAIL_POLICY: %s", policy)
	}

	return RateLimiterConfig{
		Rule: domain.RateLimitRule{
			Requests: requests,
			Window:   time.Duration(windowSeconds) * time.Second,
		},
		KeyPrefix:  lookup("RATE_LIMIT_KEY_PREFIX", "ratelimit:generate"),
		FailPolicy: policy,
	}, nil
}

func buildOllamaConfig(lookup func(string, string) string) (OllamaConfig, error) {
	timeout, err := time.ParseDuration(lookup("OLLAMA_TIMEOUT", "120s"))
	if err != nil {
		return OllamaConfig{}, fmt.Errorf("invalid OLLAMA_TIMEOUT: %w", err)
	}

	bodyLimit, err := strconv.Atoi(lookup("OLLAMA_ERROR_BODY_LIMIT", "512"))
	if err != nil {
		return OllamaConfig{}, fmt.Errorf("invalid OLLAMA_ERROR_BODY_LIMIT: %w", err)
	}

	return OllamaConfig{
		URL:            lookup("OLLAMA_URL", "http://localhost:11434/api/generate"),
		Timeout:        timeout,
		ErrorBodyLimit: bodyLimit,
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
