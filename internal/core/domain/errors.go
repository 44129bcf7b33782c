package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

func IsRateLimitedError(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// FieldError descreve uma falha de validação em um campo do payload.
type FieldError struct {
	Field   string
	Message string
	Type    string
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type UpstreamErrorKind int

const (
	// UpstreamStatus indica que o backend respondeu com status diferente de 2xx.
	UpstreamStatus UpstreamErrorKind = iota + 1
	// UpstreamTransport cobre falhas de rede, timeout e respostas ilegíveis.
	UpstreamTransport
)

type UpstreamError struct {
	Kind       UpstreamErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Kind == UpstreamStatus {
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "upstream request failed"
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
