package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/credentials"
	"github.com/sirupsen/logrus"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter talks to a chat-completions style API
type OpenAIAdapter struct {
	opts   AdapterOptions
	logger *logrus.Logger
}

// NewOpenAIAdapter creates the primary provider adapter
func NewOpenAIAdapter(opts AdapterOptions, logger *logrus.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		opts:   opts.withDefaults(defaultOpenAIBaseURL),
		logger: logger,
	}
}

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	Verbosity           string          `json:"verbosity,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error"`
}

type openAIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"`
}

func (e *openAIError) rateLimited() bool {
	code, _ := e.Code.(string)
	return code == "rate_limit_exceeded" || e.Type == "rate_limit_error"
}

// isReasoningModel reports whether the model takes reasoning parameters
// instead of temperature and max_tokens
func isReasoningModel(model string) bool {
	for _, p := range []string{"gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func buildOpenAIRequest(model string, messages []models.Message, params models.GenerationParams) openAIRequest {
	apiMsgs := make([]openAIMessage, len(messages))
	for i, msg := range messages {
		apiMsgs[i] = openAIMessage{Role: msg.Role, Content: msg.Content}
	}

	req := openAIRequest{Model: model, Messages: apiMsgs}
	if isReasoningModel(model) {
		req.MaxCompletionTokens = params.MaxTokens
		req.ReasoningEffort = params.ReasoningEffort
		req.Verbosity = params.TextVerbosity
	} else {
		req.MaxTokens = params.MaxTokens
		req.Temperature = params.Temperature
	}
	return req
}

// Invoke performs a single chat completion call
func (a *OpenAIAdapter) Invoke(ctx context.Context, model models.ResolvedModel, messages []models.Message, params models.GenerationParams, cred credentials.Credential) (*models.NormalizedResult, error) {
	const provider = models.PrimaryProvider

	jsonData, err := json.Marshal(buildOpenAIRequest(model.UpstreamModelID, messages, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.opts.pace(reqCtx, provider); err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(a.opts.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Secret())

	a.logger.WithFields(logrus.Fields{
		"model":      model.UpstreamModelID,
		"credential": cred.ID(),
	}).Debug("Sending primary provider request")

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(provider, err)
	}
	defer resp.Body.Close()

	body, err := a.opts.readBody(resp.Body)
	if err != nil {
		return nil, transportError(provider, err)
	}

	var result openAIResponse
	decodeErr := json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK {
		ue := &UpstreamError{
			Class:      ClassifyStatus(resp.StatusCode),
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
		if decodeErr == nil && result.Error != nil {
			ue.Message = result.Error.Message
			if result.Error.rateLimited() {
				ue.Class = ClassRateLimited
			}
		}
		return nil, ue
	}

	if decodeErr != nil {
		return nil, &UpstreamError{Class: ClassUnknown, Provider: provider, StatusCode: resp.StatusCode, Message: "malformed response body", Err: decodeErr}
	}
	if result.Error != nil {
		class := ClassUnknown
		if result.Error.rateLimited() {
			class = ClassRateLimited
		}
		return nil, &UpstreamError{Class: class, Provider: provider, StatusCode: resp.StatusCode, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return nil, &UpstreamError{Class: ClassUnknown, Provider: provider, Message: "no choices in response"}
	}

	upstreamModel := result.Model
	if upstreamModel == "" {
		upstreamModel = model.UpstreamModelID
	}

	u := result.Usage
	return &models.NormalizedResult{
		Content: result.Choices[0].Message.Content,
		Usage: models.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      totalOr(u.TotalTokens, u.PromptTokens, u.CompletionTokens),
		},
		Model:    upstreamModel,
		Provider: provider,
	}, nil
}
