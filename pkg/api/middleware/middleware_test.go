package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/api/response"
	"github.com/goclaw/pumpcycle/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func decodeError(t *testing.T, body []byte) response.ErrorResponse {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	})

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Format: "json", Writer: &buf})

	handler := RequestID()(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil)
	req.Header.Set(RequestIDHeader, "req-log")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"message":"HTTP request"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"path":"/api/v1/cycles"`)
	assert.Contains(t, out, `"size":15`)
	assert.Contains(t, out, `"request_id":"req-log"`)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: logger.InfoLevel, Format: "json", Writer: &buf})

	handler := RequestID()(Recovery(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("valve actuator exploded")
	})))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-panic")
	w := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decodeError(t, w.Body.Bytes())
	assert.Equal(t, response.ErrCodeInternalServer, resp.Error.Code)
	assert.Equal(t, "req-panic", resp.Error.RequestID)
	assert.Contains(t, resp.Error.Message, "valve actuator exploded")
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestRecovery_AbortHandlerPassesThrough(t *testing.T) {
	handler := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestCORS(t *testing.T) {
	cfg := &config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"http://panel.local"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/signals", nil)
		req.Header.Set("Origin", "http://panel.local")
		w := httptest.NewRecorder()
		CORS(cfg)(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://panel.local", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
		assert.Equal(t, RequestIDHeader, w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.local")
		w := httptest.NewRecorder()
		CORS(cfg)(okHandler()).ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/cycles", nil)
		req.Header.Set("Origin", "http://panel.local")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		CORS(cfg)(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://panel.local")
		w := httptest.NewRecorder()
		CORS(&config.CORSConfig{})(okHandler()).ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestTimeout(t *testing.T) {
	slow := func(d time.Duration) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
			w.Header().Set("X-Stage", "done")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		})
	}

	t.Run("completes", func(t *testing.T) {
		w := httptest.NewRecorder()
		Timeout(time.Second)(slow(5*time.Millisecond)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "done", w.Header().Get("X-Stage"))
		assert.Equal(t, "created", w.Body.String())
	})

	t.Run("times out", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		RequestID()(Timeout(20*time.Millisecond)(slow(time.Second))).ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, response.ErrCodeGatewayTimeout, decodeError(t, w.Body.Bytes()).Error.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		Timeout(0)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("panic reaches recovery", func(t *testing.T) {
		handler := Recovery(logger.Nop())(Timeout(time.Second)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("late panic")
		})))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

type mockMetricsRecorder struct {
	mu          sync.Mutex
	paths       []string
	statuses    []string
	activeConns int
	maxActive   int
}

func (m *mockMetricsRecorder) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
	m.statuses = append(m.statuses, status)
}

func (m *mockMetricsRecorder) IncActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConns++
	m.maxActive = max(m.maxActive, m.activeConns)
}

func (m *mockMetricsRecorder) DecActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeConns--
}

type contextMockRecorder struct {
	mockMetricsRecorder
	traceID string
}

func (m *contextMockRecorder) RecordHTTPRequestContext(ctx context.Context, method, path, status string, d time.Duration) {
	m.traceID = trace.SpanContextFromContext(ctx).TraceID().String()
	m.RecordHTTPRequest(method, path, status, d)
}

func TestMetrics(t *testing.T) {
	mock := &mockMetricsRecorder{}
	r := chi.NewRouter()
	r.Use(Metrics(mock))
	r.Get("/api/v1/cycles/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/cycles/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, []string{"/api/v1/cycles/{id}"}, mock.paths)
	assert.Equal(t, []string{"404"}, mock.statuses)
	assert.Equal(t, 0, mock.activeConns)
	assert.Equal(t, 1, mock.maxActive)
}

func TestMetrics_PanicIsRecorded(t *testing.T) {
	mock := &mockMetricsRecorder{}
	handler := Metrics(mock)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/cycles/42", nil))
	})
	assert.Equal(t, []string{"/api/v1/cycles/:id"}, mock.paths)
	assert.Equal(t, []string{"500"}, mock.statuses)
	assert.Equal(t, 0, mock.activeConns)
}

func TestMetrics_ContextRecorder(t *testing.T) {
	mock := &contextMockRecorder{}
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/signals", nil).WithContext(ctx)
	Metrics(mock)(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", mock.traceID)
	assert.Equal(t, []string{"200"}, mock.statuses)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/cycles":     "/api/v1/cycles",
		"/api/v1/cycles/123": "/api/v1/cycles/:id",
		"/api/v1/cycles/550e8400-e29b-41d4-a716-446655440000": "/api/v1/cycles/:id",
		"/api/v1/signals/inputs/tankIsFull":                   "/api/v1/signals/inputs/tankIsFull",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RequestID()(RateLimit(&config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2})(okHandler()))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/signals/inputs/tankIsFull", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:5001").Code)

	w := send("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, response.ErrCodeTooManyRequests, decodeError(t, w.Body.Bytes()).Error.Code)

	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000").Code, "budgets are per client")
}

func TestRateLimit_Disabled(t *testing.T) {
	handler := RateLimit(&config.RateLimitConfig{Enabled: false, RPS: 0.001, Burst: 1})(okHandler())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.NotNil(t, RateLimit(nil))
}

func TestRateLimiter_TracksClients(t *testing.T) {
	l := NewRateLimiter(10, 0)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Clients())
}
