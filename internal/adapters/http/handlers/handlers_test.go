package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JeanGrijp/code-companion/internal/adapters/inference/ollama"
	"github.com/JeanGrijp/code-companion/internal/adapters/storage/memory"
	"github.com/JeanGrijp/code-companion/internal/core/domain"
	"github.com/JeanGrijp/code-companion/internal/core/ports"
	"github.com/JeanGrijp/code-companion/internal/core/services"
)

type testServer struct {
	handler       http.Handler
	upstreamCalls *atomic.Int64
	store         *countingStore
}

type serverOptions struct {
	upstream   http.HandlerFunc
	storeErr   error
	failPolicy domain.FailPolicy
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	calls := &atomic.Int64{}
	upstreamFn := opts.upstream
	if upstreamFn == nil {
		upstreamFn = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"def add(a, b): return a + b","done":true}`))
		}
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstreamFn(w, r)
	}))
	t.Cleanup(upstream.Close)

	client, err := ollama.New(ollama.Config{URL: upstream.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create ollama client: %v", err)
	}

	store := &countingStore{inner: memory.New(), err: opts.storeErr}
	limiter, err := services.NewRateLimiterService(store, services.Config{
		Rule:       domain.RateLimitRule{Requests: 5, Window: time.Minute},
		FailPolicy: opts.failPolicy,
	}, nil)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	generator, err := services.NewGenerationService(limiter, client, nil)
	if err != nil {
		t.Fatalf("failed to create generation service: %v", err)
	}

	return &testServer{
		handler:       NewRouter(New(generator, store, nil), RouterConfig{}),
		upstreamCalls: calls,
		store:         store,
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.RemoteAddr = "192.0.2.10:40000"
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["docs"] != "/docs" || body["redoc"] != "/redoc" || body["message"] == "" {
		t.Fatalf("unexpected root payload: %v", body)
	}
}

func TestGreet(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/greet/world", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"greeting":"Hello, world! How can I assist you today?"}` {
		t.Fatalf("unexpected greeting: %s", got)
	}
}

func TestGenerate_Success(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"write add in python"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["response"] != "def add(a, b): return a + b" {
		t.Fatalf("unexpected response text: %v", body["response"])
	}
	if body["model"] != "mistral" {
		t.Fatalf("expected default model, got %v", body["model"])
	}
	if secs, ok := body["processing_time_seconds"].(float64); !ok || secs < 0 {
		t.Fatalf("expected non-negative processing time, got %v", body["processing_time_seconds"])
	}
	if body["requests_remaining"] != float64(4) {
		t.Fatalf("expected requests_remaining=4, got %v", body["requests_remaining"])
	}
	if w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Fatalf("expected X-RateLimit-Remaining=4, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestGenerate_SixthRequestIsRateLimited(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	for i := 0; i < 5; i++ {
		w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: Status = %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"detail":"Too many requests. Please slow down."}` {
		t.Fatalf("unexpected 429 body: %s", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}
	if got := srv.upstreamCalls.Load(); got != 5 {
		t.Fatalf("expected 5 upstream calls, got %d", got)
	}
}

func TestGenerate_MissingPromptRejectedBeforeGate(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	for _, body := range []string{`{}`, `{"prompt":null}`, `{"prompt":"   "}`, `{"prompt":"p","temperature":3}`, `{"prompt":"p","max_tokens":0}`} {
		w := srv.do(http.MethodPost, "/generate", body)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: Status = %d, want %d", body, w.Code, http.StatusUnprocessableEntity)
		}
		detail, ok := decodeBody(t, w)["detail"].([]any)
		if !ok || len(detail) == 0 {
			t.Fatalf("body %s: expected field-level detail, got %s", body, w.Body.String())
		}
	}

	w := srv.do(http.MethodPost, "/generate", `{}`)
	issue := decodeBody(t, w)["detail"].([]any)[0].(map[string]any)
	loc := issue["loc"].([]any)
	if len(loc) != 2 || loc[0] != "body" || loc[1] != "prompt" {
		t.Fatalf("expected loc [body prompt], got %v", loc)
	}

	if n := srv.store.increments.Load(); n != 0 {
		t.Fatalf("expected no rate gate calls, got %d", n)
	}
	if n := srv.upstreamCalls.Load(); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}
}

func TestGenerate_MalformedJSON(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	for _, body := range []string{
		`{"prompt":`,
		`{"prompt":"p","max_tokens":"many"}`,
		`{"prompt":"p"} {"garbage`,
		`{"prompt":"p"} {"prompt":"q"}`,
	} {
		w := srv.do(http.MethodPost, "/generate", body)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: Status = %d, want %d", body, w.Code, http.StatusUnprocessableEntity)
		}
	}
	if n := srv.store.increments.Load(); n != 0 {
		t.Fatalf("expected no rate gate calls, got %d", n)
	}
	if n := srv.upstreamCalls.Load(); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}
}

func TestGenerate_TrailingWhitespaceIsAccepted(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodPost, "/generate", "{\"prompt\":\"p\"}\n  ")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestGenerate_BlankModelIsRejected(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	for _, body := range []string{`{"prompt":"p","model":""}`, `{"prompt":"p","model":"   "}`} {
		w := srv.do(http.MethodPost, "/generate", body)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: Status = %d, want %d", body, w.Code, http.StatusUnprocessableEntity)
		}
		issue := decodeBody(t, w)["detail"].([]any)[0].(map[string]any)
		if loc := issue["loc"].([]any); len(loc) != 2 || loc[1] != "model" {
			t.Fatalf("body %s: expected loc [body model], got %v", body, loc)
		}
	}
	if n := srv.store.increments.Load(); n != 0 {
		t.Fatalf("expected no rate gate calls, got %d", n)
	}
}

func TestGenerate_UpstreamNonOK(t *testing.T) {
	srv := newTestServer(t, serverOptions{
		upstream: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`model "mistral" not found`))
		},
	})

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	detail, _ := decodeBody(t, w)["detail"].(string)
	if !strings.Contains(detail, "Ollama error:") || !strings.Contains(detail, `model "mistral" not found`) {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestGenerate_UpstreamUnreachable(t *testing.T) {
	srv := newTestServer(t, serverOptions{
		upstream: func(w http.ResponseWriter, r *http.Request) {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Errorf("expected hijackable response writer")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
		},
	})

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	detail, _ := decodeBody(t, w)["detail"].(string)
	if !strings.HasPrefix(detail, "Error communicating with Ollama: ") {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestGenerate_StoreUnavailableFailsClosed(t *testing.T) {
	srv := newTestServer(t, serverOptions{storeErr: errors.New("dial tcp 127.0.0.1:6379: connection refused")})

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if n := srv.upstreamCalls.Load(); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}
}

func TestGenerate_StoreUnavailableFailOpen(t *testing.T) {
	srv := newTestServer(t, serverOptions{
		storeErr:   errors.New("connection refused"),
		failPolicy: domain.FailOpen,
	})

	w := srv.do(http.MethodPost, "/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" || body["ollama_configured"] != true || body["redis_status"] != "active" {
		t.Fatalf("unexpected health payload: %v", body)
	}
	if ts, ok := body["timestamp"].(float64); !ok || ts <= 0 {
		t.Fatalf("expected unix timestamp, got %v", body["timestamp"])
	}
}

func TestHealth_StoreDownReportsInactive(t *testing.T) {
	srv := newTestServer(t, serverOptions{storeErr: errors.New("connection refused")})

	w := srv.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeBody(t, w)["redis_status"]; got != "inactive" {
		t.Fatalf("expected redis_status=inactive, got %v", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	r := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	srv.handler.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin to be allowed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials to be allowed, got %q", got)
	}
}

func TestRecoverer_WritesJSONDetail(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"detail":"Internal server error"}` {
		t.Fatalf("unexpected 500 body: %s", got)
	}
}

func TestRecoverer_RepanicsOnAbortHandler(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if decodeBody(t, w)["detail"] != "Not Found" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

type countingStore struct {
	inner      ports.CounterStore
	err        error
	increments atomic.Int64
}

func (s *countingStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.increments.Add(1)
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.inner.Increment(ctx, key, window)
}

func (s *countingStore) Ping(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	return s.inner.Ping(ctx)
}
