package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/ai-gateway-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newOpenAI(t *testing.T, handler http.HandlerFunc) *ai.OpenAIAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return ai.NewOpenAIAdapter(ai.AdapterOptions{BaseURL: srv.URL, Timeout: 2 * time.Second}, logger.NewDiscard())
}

var primaryGPT4o = models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-4o"}

func userHi() []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: "hi"}}
}

func TestOpenAIAdapter_Invoke(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	adapter := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-2024-08-06",
			"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
		}`))
	})

	temp := 0.3
	res, err := adapter.Invoke(context.Background(), primaryGPT4o, userHi(),
		models.GenerationParams{Temperature: &temp, MaxTokens: 100}, testCredential(t, models.PrimaryProvider, "sk-test"))
	require.NoError(t, err)

	assert.Equal(t, "hello there", res.Content)
	assert.Equal(t, models.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}, res.Usage)
	assert.Equal(t, "gpt-4o-2024-08-06", res.Model)
	assert.Equal(t, models.PrimaryProvider, res.Provider)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, 0.3, got["temperature"])
	assert.Equal(t, float64(100), got["max_tokens"])
	assert.NotContains(t, got, "max_completion_tokens")
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]interface{}{"role": "user", "content": "hi"}, msgs[0])
}

func TestOpenAIAdapter_ReasoningModelParams(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	adapter := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	temp := 0.7
	model := models.ResolvedModel{Provider: models.PrimaryProvider, UpstreamModelID: "gpt-5-mini"}
	params := models.GenerationParams{Temperature: &temp, MaxTokens: 256, ReasoningEffort: "low", TextVerbosity: "medium"}
	_, err := adapter.Invoke(context.Background(), model, userHi(), params, testCredential(t, models.PrimaryProvider, "sk"))
	require.NoError(t, err)

	assert.Equal(t, float64(256), got["max_completion_tokens"])
	assert.Equal(t, "low", got["reasoning_effort"])
	assert.Equal(t, "medium", got["verbosity"])
	assert.NotContains(t, got, "temperature")
	assert.NotContains(t, got, "max_tokens")
}

func TestOpenAIAdapter_MissingUsageDefaultsToZero(t *testing.T) {
	t.Parallel()

	adapter := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	res, err := adapter.Invoke(context.Background(), primaryGPT4o, userHi(), models.GenerationParams{}, testCredential(t, models.PrimaryProvider, "sk"))
	require.NoError(t, err)
	assert.Equal(t, models.Usage{}, res.Usage)
	assert.Equal(t, "gpt-4o", res.Model)
}

func TestOpenAIAdapter_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   ai.Classification
	}{
		{name: "429", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, want: ai.ClassRateLimited},
		{name: "401", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, want: ai.ClassAuthRejected},
		{name: "403", status: http.StatusForbidden, body: `forbidden`, want: ai.ClassAuthRejected},
		{name: "400", status: http.StatusBadRequest, body: `{"error":{"message":"bad model"}}`, want: ai.ClassInvalidRequest},
		{name: "500", status: http.StatusInternalServerError, body: `oops`, want: ai.ClassUnavailable},
		{name: "404", status: http.StatusNotFound, body: `{}`, want: ai.ClassUnknown},
		{name: "rate limit code in body", status: http.StatusBadRequest, body: `{"error":{"message":"quota","code":"rate_limit_exceeded"}}`, want: ai.ClassRateLimited},
		{name: "rate limit type in body", status: http.StatusServiceUnavailable, body: `{"error":{"message":"quota","type":"rate_limit_error"}}`, want: ai.ClassRateLimited},
		{name: "error in 200 body", status: http.StatusOK, body: `{"error":{"message":"quota","code":"rate_limit_exceeded"}}`, want: ai.ClassRateLimited},
		{name: "malformed 200 body", status: http.StatusOK, body: `not json`, want: ai.ClassUnknown},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, want: ai.ClassUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			adapter := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.Invoke(context.Background(), primaryGPT4o, userHi(), models.GenerationParams{}, testCredential(t, models.PrimaryProvider, "sk"))
			require.Error(t, err)
			assert.True(t, ai.IsUpstreamClass(err, tt.want), "got %v", err)
		})
	}
}

func TestOpenAIAdapter_TimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	adapter := ai.NewOpenAIAdapter(ai.AdapterOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logger.NewDiscard())
	_, err := adapter.Invoke(context.Background(), primaryGPT4o, userHi(), models.GenerationParams{}, testCredential(t, models.PrimaryProvider, "sk"))
	require.Error(t, err)
	assert.True(t, ai.IsUpstreamClass(err, ai.ClassUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIAdapter_PacingHonoursCancellation(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	t.Cleanup(srv.Close)

	adapter := ai.NewOpenAIAdapter(ai.AdapterOptions{
		BaseURL: srv.URL,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	}, logger.NewDiscard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := adapter.Invoke(ctx, primaryGPT4o, userHi(), models.GenerationParams{}, testCredential(t, models.PrimaryProvider, "sk"))
	require.Error(t, err)
	assert.True(t, ai.IsUpstreamClass(err, ai.ClassUnavailable))
	assert.Zero(t, calls)
}

func TestOpenAIAdapter_ResponseBodyIsCapped(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("x", 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + content + `"}}]}`))
	}))
	t.Cleanup(srv.Close)

	adapter := ai.NewOpenAIAdapter(ai.AdapterOptions{BaseURL: srv.URL, MaxResponseBytes: 64}, logger.NewDiscard())
	_, err := adapter.Invoke(context.Background(), primaryGPT4o, userHi(), models.GenerationParams{}, testCredential(t, models.PrimaryProvider, "sk"))
	require.Error(t, err)
	assert.True(t, ai.IsUpstreamClass(err, ai.ClassUnknown), "got %v", err)
}
