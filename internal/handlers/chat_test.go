package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ai-gateway-go/internal/config"
	"github.com/ai-gateway-go/internal/handlers"
	"github.com/ai-gateway-go/internal/i18n"
	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/ai-gateway-go/internal/services/auth"
	"github.com/ai-gateway-go/internal/services/credentials"
	"github.com/ai-gateway-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "handler-test-secret"

type stack struct {
	router http.Handler
	pool   *credentials.Pool
	hits   *int32
	token  string
}

func newStack(t *testing.T, limits config.RateLimitConfig, upstream http.HandlerFunc) *stack {
	t.Helper()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	log := logger.NewDiscard()
	pool := credentials.NewPool(map[models.Provider][]string{
		models.PrimaryProvider:   {"sk-primary"},
		models.SecondaryProvider: {"sk-secondary"},
	}, log)

	adapters := map[models.Provider]ai.Adapter{
		models.PrimaryProvider:   ai.NewOpenAIAdapter(ai.AdapterOptions{BaseURL: srv.URL}, log),
		models.SecondaryProvider: ai.NewAnthropicAdapter(ai.AdapterOptions{BaseURL: srv.URL}, 0, log),
	}
	resolver := ai.NewResolver(config.ModelsConfig{
		Default: "gpt-4o-mini",
		Aliases: map[string]string{"gpt-5-nano": "gpt-4o-mini"},
	}, nil)
	limiter := middleware.NewRateLimiter(limits, log)
	metrics := middleware.NewMetrics()

	gateway := ai.NewGateway(auth.NewJWTVerifier(jwtSecret), limiter, middleware.AIPolicy(limits), resolver, pool, adapters, log,
		ai.WithMetrics(metrics))

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en", "zh"}})
	require.NoError(t, err)
	ips, err := middleware.NewClientIPResolver(nil)
	require.NoError(t, err)

	responder := handlers.NewResponder(localizer, log)
	router := handlers.NewRouter(handlers.RouterConfig{
		Chat:          handlers.NewChatHandler(gateway, ips, responder, log),
		Health:        handlers.NewHealthHandler(pool, metrics, responder),
		Responder:     responder,
		Limiter:       limiter,
		GeneralPolicy: middleware.GeneralPolicy(limits),
		ClientIPs:     ips,
		Metrics:       metrics,
		MetricsPath:   "/metrics",
		Logger:        log,
	})

	token, err := auth.IssueToken(jwtSecret, "user-42", time.Hour)
	require.NoError(t, err)

	return &stack{router: router, pool: pool, hits: &hits, token: token}
}

var defaultLimits = config.RateLimitConfig{
	Enabled: true,
	AI:      config.PolicyConfig{Limit: 10, Window: time.Minute},
	General: config.PolicyConfig{Limit: 500, Window: 15 * time.Minute},
}

func okUpstream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/v1/messages") {
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"from secondary"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
		return
	}
	_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"from primary"}}],"usage":{"prompt_tokens":4,"completion_tokens":5,"total_tokens":9}}`))
}

func (s *stack) chat(t *testing.T, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

const hiBody = `{"messages":[{"role":"user","content":"hi"}],"model":"gpt-4o"}`

func TestChat_Success(t *testing.T) {
	t.Parallel()

	s := newStack(t, defaultLimits, okUpstream)
	rec, out := s.chat(t, hiBody, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	data := out["data"].(map[string]interface{})
	assert.Equal(t, "from primary", data["content"])
	assert.Equal(t, "primary", data["provider"])
	assert.Equal(t, map[string]interface{}{
		"promptTokens":     float64(4),
		"completionTokens": float64(5),
		"totalTokens":      float64(9),
	}, data["usage"])
}

func TestChat_SecondaryFamily(t *testing.T) {
	t.Parallel()

	s := newStack(t, defaultLimits, okUpstream)
	rec, out := s.chat(t, `{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"}],"model":"claude-x"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "from secondary", data["content"])
	assert.Equal(t, "secondary", data["provider"])
}

func TestChat_EleventhRequestRateLimited(t *testing.T) {
	t.Parallel()

	s := newStack(t, defaultLimits, okUpstream)
	for i := 0; i < 10; i++ {
		rec, _ := s.chat(t, hiBody, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec, out := s.chat(t, hiBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Greater(t, out["retryAfter"], float64(0))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, int32(10), atomic.LoadInt32(s.hits))
}

func TestChat_SoleCredentialCoolingDown(t *testing.T) {
	t.Parallel()

	s := newStack(t, defaultLimits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	rec, _ := s.chat(t, hiBody, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, out := s.chat(t, hiBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, int32(1), atomic.LoadInt32(s.hits))
	assert.Equal(t, credentials.Status{CoolingDown: 1}, s.pool.Snapshot()[models.PrimaryProvider])
}

func TestChat_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		headers  map[string]string
		upstream http.HandlerFunc
		status   int
		message  string
	}{
		{
			name:    "missing token",
			body:    hiBody,
			headers: map[string]string{"Authorization": ""},
			status:  http.StatusUnauthorized,
			message: "Authentication required. Please provide a valid token.",
		},
		{
			name:    "malformed json",
			body:    `{"messages":`,
			status:  http.StatusBadRequest,
			message: "The request body could not be parsed.",
		},
		{
			name:    "empty messages",
			body:    `{"messages":[],"model":"gpt-4o"}`,
			status:  http.StatusBadRequest,
			message: "The request is invalid: messages must not be empty: validation error",
		},
		{
			name:    "localized",
			body:    hiBody,
			headers: map[string]string{"Authorization": "Bearer nope", "Accept-Language": "zh-CN,zh;q=0.9"},
			status:  http.StatusUnauthorized,
			message: "需要身份验证，请提供有效的令牌。",
		},
		{
			name: "upstream rejects key",
			body: hiBody,
			upstream: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key"}}`))
			},
			status:  http.StatusBadGateway,
			message: "The AI provider rejected the gateway credentials.",
		},
		{
			name: "upstream down",
			body: hiBody,
			upstream: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			status:  http.StatusServiceUnavailable,
			message: "The AI service is temporarily unavailable. Please try again later.",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			upstream := tt.upstream
			if upstream == nil {
				upstream = okUpstream
			}
			s := newStack(t, defaultLimits, upstream)

			rec, out := s.chat(t, tt.body, tt.headers)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.message, out["error"])
		})
	}
}

func TestChat_GeneralPolicyLimitsBySourceAddress(t *testing.T) {
	t.Parallel()

	limits := defaultLimits
	limits.General = config.PolicyConfig{Limit: 2, Window: time.Minute}
	s := newStack(t, limits, okUpstream)

	for i := 0; i < 2; i++ {
		rec, _ := s.chat(t, hiBody, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, out := s.chat(t, hiBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests. Please try again in 60 seconds.", out["error"])
	assert.Equal(t, int32(2), atomic.LoadInt32(s.hits))
}

func TestChat_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newStack(t, defaultLimits, okUpstream)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
