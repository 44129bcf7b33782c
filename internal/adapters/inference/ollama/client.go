// Package ollama implementa o client do backend de inferência local (Ollama).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
)

const (
	// DefaultURL é o endpoint de geração do Ollama rodando localmente.
	DefaultURL = "http://localhost:11434/api/generate"

	defaultTimeout       = 120 * time.Second
	defaultErrorBodySize = 512
)

type Config struct {
	URL     string
	Timeout time.Duration
	// ErrorBodyLimit limita quantos bytes do corpo de erro do upstream são repassados.
	ErrorBodyLimit int
	Logger         *zap.Logger
}

type Client struct {
	url            string
	httpClient     *http.Client
	errorBodyLimit int
	logger         *zap.Logger
}

var _ ports.InferenceClient = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ErrorBodyLimit <= 0 {
		cfg.ErrorBodyLimit = defaultErrorBodySize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("ollama url must be http(s): %s", cfg.URL)
	}

	return &Client{
		url:            cfg.URL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		errorBodyLimit: cfg.ErrorBodyLimit,
		logger:         cfg.Logger,
	}, nil
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate faz exatamente uma chamada síncrona (stream=false), sem retry.
func (c *Client) Generate(ctx context.Context, req domain.InferenceRequest) (string, error) {
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.UpstreamTransport, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.UpstreamTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.UpstreamTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.errorBodyLimit)))
		if err != nil {
			c.logger.Warn("failed to read upstream error body",
				zap.Int("status", resp.StatusCode),
				zap.Int("bytes_read", len(raw)),
				zap.Error(err),
			)
		}
		return "", &domain.UpstreamError{
			Kind:       domain.UpstreamStatus,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(trimPartialRune(raw))),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", &domain.UpstreamError{Kind: domain.UpstreamTransport, Err: fmt.Errorf("decode response: %w", err)}
	}

	return out.Response, nil
}

// trimPartialRune descarta uma sequência UTF-8 incompleta no fim de b, deixada
// pelo corte em errorBodyLimit.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start]
		}
		return b
	}
	return b
}
