package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/adapters/http/middleware"
)

// Recoverer converte panics em 500 com o mesmo envelope {detail} das demais respostas de erro.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeDetail(w, http.StatusInternalServerError, internalErrorDetail)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
