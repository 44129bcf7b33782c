package ports

import (
	"context"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
)

// InferenceClient envia um prompt ao backend de inferência e devolve o texto gerado.
type InferenceClient interface {
	Generate(ctx context.Context, req domain.InferenceRequest) (string, error)
}

// DecisionObserver recebe eventos do rate gate e do upstream para métricas.
type DecisionObserver interface {
	ObserveDecision(decision domain.Decision, err error)
	ObserveUpstream(outcome string, seconds float64)
}
