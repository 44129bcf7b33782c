package domain

const (
	DefaultModel       = "mistral"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// PromptRequest é o payload aceito por POST /generate, já com os defaults aplicados.
type PromptRequest struct {
	Prompt      string  `json:"prompt" validate:"required,notblank"`
	Model       string  `json:"model" validate:"required,notblank"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" validate:"gt=0"`
}

// NewPromptRequest aplica os defaults aos campos opcionais ausentes. Um model
// enviado em branco é mantido para ser rejeitado na validação.
func NewPromptRequest(prompt string, model *string, temperature *float64, maxTokens *int) PromptRequest {
	req := PromptRequest{
		Prompt:      prompt,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if model != nil {
		req.Model = *model
	}
	if temperature != nil {
		req.Temperature = *temperature
	}
	if maxTokens != nil {
		req.MaxTokens = *maxTokens
	}
	return req
}

// InferenceRequest é o corpo enviado ao backend de inferência.
type InferenceRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

func (r PromptRequest) Inference() InferenceRequest {
	return InferenceRequest{
		Model:       r.Model,
		Prompt:      r.Prompt,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Stream:      false,
	}
}

type GenerationResult struct {
	Response              string  `json:"response"`
	Model                 string  `json:"model"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	RequestsRemaining     int     `json:"requests_remaining"`
}
