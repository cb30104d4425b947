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

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicMaxTokens = 4096
	anthropicAPIVersion       = "2023-06-01"
	anthropicMessagesPath     = "/v1/messages"
)

// AnthropicAdapter talks to a Messages style API that only knows the
// user and assistant roles
type AnthropicAdapter struct {
	opts             AdapterOptions
	defaultMaxTokens int
	logger           *logrus.Logger
}

// NewAnthropicAdapter creates the secondary provider adapter
func NewAnthropicAdapter(opts AdapterOptions, defaultMaxTokens int, logger *logrus.Logger) *AnthropicAdapter {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicAdapter{
		opts:             opts.withDefaults(defaultAnthropicBaseURL),
		defaultMaxTokens: defaultMaxTokens,
		logger:           logger,
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// foldMessages maps system content onto the user role and merges
// consecutive same-role turns, since the API requires alternation.
func foldMessages(msgs []models.Message) []anthropicMessage {
	var result []anthropicMessage
	for _, msg := range msgs {
		role := msg.Role
		if role == models.RoleSystem {
			role = models.RoleUser
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content += "\n\n" + msg.Content
			continue
		}
		result = append(result, anthropicMessage{Role: role, Content: msg.Content})
	}
	return result
}

func (a *AnthropicAdapter) buildRequest(model string, messages []models.Message, params models.GenerationParams) anthropicRequest {
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.defaultMaxTokens
	}
	temp := params.Temperature
	// this API caps temperature at 1
	if temp != nil && *temp > 1 {
		one := 1.0
		temp = &one
	}
	return anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    foldMessages(messages),
		Temperature: temp,
	}
}

// Invoke performs a single Messages API call
func (a *AnthropicAdapter) Invoke(ctx context.Context, model models.ResolvedModel, messages []models.Message, params models.GenerationParams, cred credentials.Credential) (*models.NormalizedResult, error) {
	const provider = models.SecondaryProvider

	body, err := json.Marshal(a.buildRequest(model.UpstreamModelID, messages, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if err := a.opts.pace(reqCtx, provider); err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(a.opts.BaseURL, "/") + anthropicMessagesPath
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", cred.Secret())
	req.Header.Set("Anthropic-Version", anthropicAPIVersion)

	a.logger.WithFields(logrus.Fields{
		"model":      model.UpstreamModelID,
		"credential": cred.ID(),
	}).Debug("Sending secondary provider request")

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(provider, err)
	}
	defer resp.Body.Close()

	respBody, err := a.opts.readBody(resp.Body)
	if err != nil {
		return nil, transportError(provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(resp.StatusCode, respBody)
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &UpstreamError{Class: ClassUnknown, Provider: provider, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	content, found := "", false
	for _, block := range result.Content {
		if block.Type == "text" {
			content, found = block.Text, true
			break
		}
	}
	if !found {
		return nil, &UpstreamError{Class: ClassUnknown, Provider: provider, Message: "no text content in response"}
	}

	upstreamModel := result.Model
	if upstreamModel == "" {
		upstreamModel = model.UpstreamModelID
	}

	u := result.Usage
	return &models.NormalizedResult{
		Content: content,
		Usage: models.Usage{
			PromptTokens:     u.InputTokens,
			CompletionTokens: u.OutputTokens,
			TotalTokens:      totalOr(0, u.InputTokens, u.OutputTokens),
		},
		Model:    upstreamModel,
		Provider: provider,
	}, nil
}

func parseAnthropicError(status int, body []byte) error {
	ue := &UpstreamError{
		Class:      ClassifyStatus(status),
		Provider:   models.SecondaryProvider,
		StatusCode: status,
		Message:    string(body),
	}
	var apiErr anthropicErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Type != "" {
		ue.Message = apiErr.Error.Type + ": " + apiErr.Error.Message
		if apiErr.Error.Type == "rate_limit_error" {
			ue.Class = ClassRateLimited
		}
	}
	return ue
}
