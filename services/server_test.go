package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeLLMHealth bool

func (f fakeLLMHealth) Healthy() bool { return bool(f) }

func testServer(cfg *Config) *Server {
	s := NewServer(cfg)
	s.authService = NewAuthService(newMemoryUserStore(), "test-secret", false)
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.skillEndpoints = NewSkillEndpoints(newMemorySkillStore())
	return s
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name string
		s    *Server
		want HealthResponse
	}{
		{
			name: "nothing configured",
			s:    &Server{},
			want: HealthResponse{Status: "ok", Database: "not configured", LLM: "not configured", Cache: "not configured"},
		},
		{
			name: "all up",
			s:    &Server{dbCheck: fakePinger{}, cacheCheck: fakePinger{}, llmCheck: fakeLLMHealth(true)},
			want: HealthResponse{Status: "ok", Database: "up", LLM: "up", Cache: "up"},
		},
		{
			name: "database down",
			s:    &Server{dbCheck: fakePinger{err: errors.New("refused")}, llmCheck: fakeLLMHealth(true)},
			want: HealthResponse{Status: "degraded", Database: "down", LLM: "up", Cache: "not configured"},
		},
		{
			name: "breaker open",
			s:    &Server{dbCheck: fakePinger{}, llmCheck: fakeLLMHealth(false)},
			want: HealthResponse{Status: "degraded", Database: "up", LLM: "down", Cache: "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var got HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupRoutes_AuthAndMetrics(t *testing.T) {
	cfg := &Config{Server: ServerConfig{MetricsEnabled: true}, Telemetry: TelemetryConfig{ServiceName: "mockprep"}}
	h := testServer(cfg).SetupRoutes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "API v1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mockprep_live_sessions")
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	h := testServer(&Config{}).SetupRoutes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetupRoutes_RateLimit(t *testing.T) {
	cfg := &Config{RateLimit: RateLimitConfig{Requests: 2, Window: time.Minute}}
	h := testServer(cfg).SetupRoutes()

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)

	// health is outside the limited group
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins string
		requestOrigin  string
		expected       bool
	}{
		{"allowed origin exact match", "http://localhost,http://example.com", "http://localhost", true},
		{"allowed origin second in list", "http://localhost,http://example.com", "http://example.com", true},
		{"disallowed origin", "http://localhost,http://example.com", "http://malicious.com", false},
		{"empty allowed origins deny all", "", "http://localhost", false},
		{"whitespace in config", "http://localhost, http://example.com", "http://example.com", true},
		{"port specific origin", "http://localhost:5173", "http://localhost:5173", true},
		{"port mismatch", "http://localhost:5173", "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/live", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			assert.Equal(t, tt.expected, CheckOrigin(req, tt.allowedOrigins))
		})
	}
}
