package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
)

// Generator é o caso de uso de geração consumido por POST /generate.
type Generator interface {
	Generate(ctx context.Context, clientIP string, req domain.PromptRequest) (domain.GenerationResult, domain.Decision, error)
}

// Pinger verifica se o counter store está acessível.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	generator Generator
	store     Pinger
	logger    *zap.Logger
	now       func() time.Time
}

func New(generator Generator, store Pinger, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{generator: generator, store: store, logger: logger, now: time.Now}
}

func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the AI Code Companion Bot backend!",
		"docs":    "/docs",
		"redoc":   "/redoc",
	})
}

func (h *Handlers) Greet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]string{
		"greeting": "Hello, " + name + "! How can I assist you today?",
	})
}

type healthResponse struct {
	Status           string  `json:"status"`
	OllamaConfigured bool    `json:"ollama_configured"`
	RedisStatus      string  `json:"redis_status"`
	Timestamp        float64 `json:"timestamp"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "inactive"
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err == nil {
			status = "active"
		} else {
			h.logger.Debug("counter store ping failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		OllamaConfigured: true,
		RedisStatus:      status,
		Timestamp:        float64(h.now().UnixNano()) / float64(time.Second),
	})
}
