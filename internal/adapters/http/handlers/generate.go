package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/adapters/http/middleware"
	"github.com/JeanGrijp/code-companion/internal/core/domain"
)

const (
	maxBodyBytes = 1 << 20

	rateLimitedDetail      = "Too many requests. Please slow down."
	storeUnavailableDetail = "Rate limiter unavailable. Please retry later."
	internalErrorDetail    = "Internal server error"
)

// generateRequest usa ponteiros para distinguir campos ausentes dos defaults.
type generateRequest struct {
	Prompt      *string  `json:"prompt"`
	Model       *string  `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	req, issues := decodePrompt(w, r)
	if issues != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: issues})
		return
	}

	ip := middleware.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = middleware.ExtractIP(r, false)
	}

	result, decision, err := h.generator.Generate(r.Context(), ip, req)
	if err != nil {
		h.writeGenerateError(w, r, decision, err)
		return
	}

	setRateLimitHeaders(w, decision)
	writeJSON(w, http.StatusOK, result)
}

func decodePrompt(w http.ResponseWriter, r *http.Request) (domain.PromptRequest, []validationIssue) {
	var body generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return domain.PromptRequest{}, []validationIssue{decodeIssue(err)}
	}
	// O corpo deve conter exatamente um valor JSON.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.PromptRequest{}, []validationIssue{{Loc: []string{"body"}, Msg: "invalid JSON body", Type: "value_error.jsondecode"}}
	}

	prompt := ""
	if body.Prompt != nil {
		prompt = *body.Prompt
	}
	return domain.NewPromptRequest(prompt, body.Model, body.Temperature, body.MaxTokens), nil
}

func decodeIssue(err error) validationIssue {
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return validationIssue{
			Loc:  []string{"body", typeErr.Field},
			Msg:  fmt.Sprintf("expected %s", typeErr.Type.String()),
			Type: "type_error",
		}
	case errors.As(err, &maxErr):
		return validationIssue{Loc: []string{"body"}, Msg: "request body too large", Type: "value_error.body_too_large"}
	case errors.Is(err, io.EOF):
		return validationIssue{Loc: []string{"body"}, Msg: "field required", Type: "value_error.missing"}
	default:
		return validationIssue{Loc: []string{"body"}, Msg: "invalid JSON body", Type: "value_error.jsondecode"}
	}
}

func (h *Handlers) writeGenerateError(w http.ResponseWriter, r *http.Request, decision domain.Decision, err error) {
	var verr *domain.ValidationError
	var upErr *domain.UpstreamError

	switch {
	case errors.As(err, &verr):
		issues := make([]validationIssue, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			issues = append(issues, validationIssue{Loc: []string{"body", f.Field}, Msg: f.Message, Type: f.Type})
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: issues})

	case errors.Is(err, domain.ErrRateLimited):
		setRateLimitHeaders(w, decision)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
		writeDetail(w, http.StatusTooManyRequests, rateLimitedDetail)

	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error("rate limiter unavailable", zap.Error(err))
		writeDetail(w, http.StatusServiceUnavailable, storeUnavailableDetail)

	case errors.As(err, &upErr):
		if upErr.Kind == domain.UpstreamStatus {
			writeDetail(w, http.StatusInternalServerError, "Ollama error: "+upErr.Body)
			return
		}
		writeDetail(w, http.StatusInternalServerError, "Error communicating with Ollama: "+upErr.Error())

	default:
		h.logger.Error("generate failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeDetail(w, http.StatusInternalServerError, internalErrorDetail)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, decision domain.Decision) {
	if decision.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
}

func retryAfterSeconds(decision domain.Decision) int {
	secs := int(math.Ceil(decision.ResetIn.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
