package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ai-gateway-go/internal/i18n"
	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/sirupsen/logrus"
)

type successResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Responder writes the JSON envelope shared by every endpoint
type Responder struct {
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewResponder creates a responder localizing errors with l
func NewResponder(l *i18n.Localizer, logger *logrus.Logger) *Responder {
	return &Responder{localizer: l, logger: logger}
}

func (rs *Responder) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.logger.WithError(err).Warn("Failed to write response")
	}
}

// OK writes {success: true, data}
func (rs *Responder) OK(w http.ResponseWriter, data interface{}) {
	rs.writeJSON(w, http.StatusOK, successResponse{Success: true, Data: data})
}

// Fail writes a localized error envelope
func (rs *Responder) Fail(w http.ResponseWriter, r *http.Request, status int, messageID string, data map[string]interface{}) {
	lang := r.Header.Get("Accept-Language")
	rs.writeJSON(w, status, errorResponse{Error: rs.localizer.Get(lang, messageID, data)})
}

// RateLimited writes a 429 with the Retry-After header and retryAfter field
func (rs *Responder) RateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := middleware.RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	lang := r.Header.Get("Accept-Language")
	rs.writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:      rs.localizer.Get(lang, i18n.MsgRateLimited, map[string]interface{}{"Seconds": secs}),
		RetryAfter: secs,
	})
}

// GatewayFailure maps a gateway error onto status and localized message
func (rs *Responder) GatewayFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ge *ai.GatewayError
	if !errors.As(err, &ge) {
		rs.Fail(w, r, http.StatusInternalServerError, i18n.MsgInternalError, nil)
		return
	}

	switch ge.Kind {
	case ai.KindRateLimited:
		rs.RateLimited(w, r, ge.RetryAfter)
	case ai.KindUnauthorized:
		rs.Fail(w, r, ge.HTTPStatus(), i18n.MsgUnauthorized, nil)
	case ai.KindInvalidRequest:
		rs.Fail(w, r, ge.HTTPStatus(), i18n.MsgInvalidRequest, map[string]interface{}{"Detail": detail(ge.Err)})
	case ai.KindUnavailable:
		rs.Fail(w, r, ge.HTTPStatus(), i18n.MsgUnavailable, nil)
	default:
		rs.Fail(w, r, ge.HTTPStatus(), upstreamMessage(ge), map[string]interface{}{"Detail": detail(ge.Err)})
	}
}

func upstreamMessage(ge *ai.GatewayError) string {
	switch ge.Class {
	case ai.ClassAuthRejected:
		return i18n.MsgUpstreamAuthRejected
	case ai.ClassInvalidRequest:
		return i18n.MsgUpstreamInvalidRequest
	default:
		return i18n.MsgUpstreamUnknown
	}
}

// detail prefers the upstream provider's own message over the wrapped chain
func detail(err error) string {
	var ue *ai.UpstreamError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
