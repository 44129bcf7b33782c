package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/adapters/http/middleware"
)

type RouterConfig struct {
	TrustProxyHeaders bool
	// Metrics é montado em /metrics quando não for nil.
	Metrics http.Handler
	Logger  *zap.Logger
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientIP(cfg.TrustProxyHeaders))
	r.Use(middleware.Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	r.Get("/", h.Root)
	r.Get("/greet/{name}", h.Greet)
	r.Post("/generate", h.Generate)
	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	return r
}
