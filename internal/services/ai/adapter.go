package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/credentials"
	"golang.org/x/time/rate"
)

// Adapter calls one upstream provider family
type Adapter interface {
	Invoke(ctx context.Context, model models.ResolvedModel, messages []models.Message, params models.GenerationParams, cred credentials.Credential) (*models.NormalizedResult, error)
}

// Classification buckets upstream failures
type Classification string

const (
	ClassRateLimited    Classification = "rate_limited"
	ClassAuthRejected   Classification = "auth_rejected"
	ClassInvalidRequest Classification = "invalid_request"
	ClassUnavailable    Classification = "unavailable"
	ClassUnknown        Classification = "unknown"
)

// UpstreamError is returned by adapters for every failed call
type UpstreamError struct {
	Class      Classification
	Provider   models.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s upstream %s (HTTP %d): %s", e.Provider, e.Class, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s upstream %s: %v", e.Provider, e.Class, e.Err)
	default:
		return fmt.Sprintf("%s upstream %s: %s", e.Provider, e.Class, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassifyStatus maps an upstream HTTP status to a classification
func ClassifyStatus(status int) Classification {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthRejected
	case status == http.StatusBadRequest:
		return ClassInvalidRequest
	case status >= 500:
		return ClassUnavailable
	default:
		return ClassUnknown
	}
}

// transportError wraps a failure that happened before a response arrived:
// connection errors, timeouts and cancellation.
func transportError(provider models.Provider, err error) *UpstreamError {
	return &UpstreamError{Class: ClassUnavailable, Provider: provider, Err: err}
}

// AdapterOptions holds settings shared by both adapters
type AdapterOptions struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// optional outbound pacing; nil means unlimited
	Limiter *rate.Limiter
	// caps how much of an upstream response body is read
	MaxResponseBytes int64
}

// NewPacer builds an outbound limiter, or nil when rps is not positive
func NewPacer(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (o AdapterOptions) withDefaults(baseURL string) AdapterOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultUpstreamTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return o
}

// DefaultUpstreamTimeout bounds each adapter invocation
const DefaultUpstreamTimeout = 30 * time.Second

// DefaultMaxResponseBytes bounds upstream response bodies
const DefaultMaxResponseBytes = 4 << 20

// readBody reads at most MaxResponseBytes; a longer body fails to decode
func (o AdapterOptions) readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, o.MaxResponseBytes))
}

// pace waits for the outbound limiter, if any
func (o AdapterOptions) pace(ctx context.Context, provider models.Provider) error {
	if o.Limiter == nil {
		return nil
	}
	if err := o.Limiter.Wait(ctx); err != nil {
		return transportError(provider, err)
	}
	return nil
}

// IsUpstreamClass reports whether err is an UpstreamError of the given class
func IsUpstreamClass(err error, class Classification) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Class == class
}

func totalOr(total, prompt, completion int) int {
	if total > 0 {
		return total
	}
	return prompt + completion
}
