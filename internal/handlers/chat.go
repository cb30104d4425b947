package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ai-gateway-go/internal/i18n"
	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/ai-gateway-go/internal/services/auth"
	"github.com/sirupsen/logrus"
)

// Completer runs a chat call through the gateway
type Completer interface {
	Complete(ctx context.Context, call ai.Call) (*models.NormalizedResult, error)
}

// ChatHandler serves POST /api/ai/chat
type ChatHandler struct {
	gateway   Completer
	ips       *middleware.ClientIPResolver
	responder *Responder
	logger    *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(gateway Completer, ips *middleware.ClientIPResolver, responder *Responder, logger *logrus.Logger) *ChatHandler {
	return &ChatHandler{
		gateway:   gateway,
		ips:       ips,
		responder: responder,
		logger:    logger,
	}
}

type chatRequestBody struct {
	Messages        []models.Message `json:"messages"`
	Model           string           `json:"model"`
	WorkspaceID     string           `json:"workspaceId"`
	ChannelID       string           `json:"channelId"`
	Temperature     *float64         `json:"temperature"`
	MaxTokens       int              `json:"maxTokens"`
	ReasoningEffort string           `json:"reasoningEffort"`
	TextVerbosity   string           `json:"textVerbosity"`
}

func (b chatRequestBody) toRequest() models.ChatRequest {
	return models.ChatRequest{
		Messages:    b.Messages,
		Model:       b.Model,
		WorkspaceID: b.WorkspaceID,
		ChannelID:   b.ChannelID,
		Params: models.GenerationParams{
			Temperature:     b.Temperature,
			MaxTokens:       b.MaxTokens,
			ReasoningEffort: b.ReasoningEffort,
			TextVerbosity:   b.TextVerbosity,
		},
	}
}

// HandleChat decodes the request and hands it to the gateway
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.logger.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Debug("Rejected malformed chat body")
		h.responder.Fail(w, r, status, i18n.MsgBadRequest, nil)
		return
	}

	result, err := h.gateway.Complete(r.Context(), ai.Call{
		Token:      auth.BearerToken(r.Header.Get("Authorization")),
		SourceAddr: h.ips.ClientIP(r),
		RequestID:  middleware.RequestIDFrom(r.Context()),
		Request:    body.toRequest(),
	})
	if err != nil {
		h.responder.GatewayFailure(w, r, err)
		return
	}

	h.responder.OK(w, result)
}
