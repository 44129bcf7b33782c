package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

// GenerationService compõe validação, rate gate e chamada ao backend de inferência.
type GenerationService struct {
	limiter   ports.RateLimiter
	inference ports.InferenceClient
	observer  ports.DecisionObserver
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

type GenerationOption func(*GenerationService)

func WithObserver(o ports.DecisionObserver) GenerationOption {
	return func(s *GenerationService) { s.observer = o }
}

func WithClock(now func() time.Time) GenerationOption {
	return func(s *GenerationService) { s.now = now }
}

func NewGenerationService(limiter ports.RateLimiter, inference ports.InferenceClient, logger *zap.Logger, opts ...GenerationOption) (*GenerationService, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if inference == nil {
		return nil, fmt.Errorf("inference client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &GenerationService{
		limiter:   limiter,
		inference: inference,
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate valida o payload, consulta o rate gate e, se admitido, chama o upstream.
// O Decision é devolvido também em caso de erro para que o chamador possa montar headers.
func (s *GenerationService) Generate(ctx context.Context, clientIP string, req domain.PromptRequest) (domain.GenerationResult, domain.Decision, error) {
	if err := s.Validate(req); err != nil {
		return domain.GenerationResult{}, domain.Decision{}, err
	}

	decision, err := s.limiter.Allow(ctx, domain.RateLimitRequest{IP: clientIP})
	if s.observer != nil {
		s.observer.ObserveDecision(decision, err)
	}
	if err != nil {
		return domain.GenerationResult{}, decision, err
	}
	if !decision.Allowed {
		return domain.GenerationResult{}, decision, domain.ErrRateLimited
	}

	start := s.now()
	text, err := s.inference.Generate(ctx, req.Inference())
	elapsed := s.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	if s.observer != nil {
		s.observer.ObserveUpstream(upstreamOutcome(err), elapsed.Seconds())
	}
	if err != nil {
		s.logger.Error("inference request failed",
			zap.String("model", req.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return domain.GenerationResult{}, decision, fmt.Errorf("generate: %w", err)
	}

	return domain.GenerationResult{
		Response:              text,
		Model:                 req.Model,
		ProcessingTimeSeconds: roundSeconds(elapsed),
		RequestsRemaining:     decision.Remaining,
	}, decision, nil
}

// Validate verifica as restrições do PromptRequest e devolve *domain.ValidationError.
func (s *GenerationService) Validate(req domain.PromptRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Message: err.Error(), Type: "invalid"}}}
	}

	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Type:    fe.Tag(),
		})
	}
	return &domain.ValidationError{Fields: fields}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "notblank":
		return "must not be blank"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}

func upstreamOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.Kind == domain.UpstreamStatus {
		return "status_error"
	}
	return "transport_error"
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
