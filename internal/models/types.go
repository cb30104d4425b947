package models

import (
	"errors"
	"fmt"
)

// ErrValidation indicates a chat request failed validation.
var ErrValidation = errors.New("validation error")

// Message roles accepted from callers
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries optional generation settings.
// Zero values mean "use the provider default".
type GenerationParams struct {
	Temperature     *float64
	MaxTokens       int
	ReasoningEffort string
	TextVerbosity   string
}

// ChatRequest is the normalized inbound request
type ChatRequest struct {
	Messages    []Message
	Model       string
	WorkspaceID string
	ChannelID   string
	Params      GenerationParams
}

// Validate checks the invariants every chat request must hold.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty: %w", ErrValidation)
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem:
		default:
			return fmt.Errorf("message %d: unknown role %q: %w", i, msg.Role, ErrValidation)
		}
		if msg.Content == "" {
			return fmt.Errorf("message %d: content must not be empty: %w", i, ErrValidation)
		}
	}
	if t := r.Params.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %g: %w", *t, ErrValidation)
	}
	if r.Params.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be non-negative, got %d: %w", r.Params.MaxTokens, ErrValidation)
	}
	return nil
}

// Provider identifies an upstream provider family
type Provider string

const (
	PrimaryProvider   Provider = "primary"
	SecondaryProvider Provider = "secondary"
)

// ResolvedModel is the concrete provider and upstream model for a request
type ResolvedModel struct {
	Provider        Provider
	UpstreamModelID string
}

// Usage reports token consumption
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// NormalizedResult is the provider-independent response shape
type NormalizedResult struct {
	Content  string   `json:"content"`
	Usage    Usage    `json:"usage"`
	Model    string   `json:"model,omitempty"`
	Provider Provider `json:"provider,omitempty"`
	Attempts int      `json:"-"`
}

// Identity is a verified caller
type Identity struct {
	UserID string
}
