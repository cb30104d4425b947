package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/auth"
	"github.com/ai-gateway-go/internal/services/credentials"
	"github.com/ai-gateway-go/internal/services/notify"
	"github.com/ai-gateway-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds dispatch attempts per request
const DefaultMaxAttempts = 3

// ErrorKind is the caller-visible failure taxonomy
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = "unauthorized"
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUnavailable     ErrorKind = "unavailable"
	KindUpstreamFailure ErrorKind = "upstream_failure"
)

// GatewayError is the single terminal error a caller observes
type GatewayError struct {
	Kind ErrorKind
	// set for KindUpstreamFailure
	Class      Classification
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	msg := string(e.Kind)
	if e.Class != "" {
		msg += " (" + string(e.Class) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPStatus maps the error onto a response status
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamFailure:
		switch e.Class {
		case ClassInvalidRequest:
			return http.StatusBadRequest
		case ClassUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// CredentialPool is what the gateway needs from the key pool
type CredentialPool interface {
	Acquire(provider models.Provider) (credentials.Credential, error)
	ReportRateLimited(cred credentials.Credential)
	ReportSuccess(cred credentials.Credential)
	Snapshot() map[models.Provider]credentials.Status
}

// Call is one inbound request as seen by the gateway
type Call struct {
	Token      string
	SourceAddr string
	RequestID  string
	Request    models.ChatRequest
}

// Gateway authenticates, throttles, resolves and dispatches chat requests
type Gateway struct {
	verifier    auth.Verifier
	limiter     middleware.RateLimiter
	policy      middleware.Policy
	resolver    *Resolver
	pool        CredentialPool
	adapters    map[models.Provider]Adapter
	maxAttempts int
	notifier    notify.Notifier
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithMaxAttempts overrides DefaultMaxAttempts
func WithMaxAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithNotifier sets where successful responses are announced
func WithNotifier(n notify.Notifier) GatewayOption {
	return func(g *Gateway) { g.notifier = n }
}

// WithMetrics enables Prometheus recording
func WithMetrics(m *middleware.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway wires the orchestrator. All collaborators are built once at
// process start and shared by every request.
func NewGateway(
	verifier auth.Verifier,
	limiter middleware.RateLimiter,
	policy middleware.Policy,
	resolver *Resolver,
	pool CredentialPool,
	adapters map[models.Provider]Adapter,
	logger *logrus.Logger,
	opts ...GatewayOption,
) *Gateway {
	g := &Gateway{
		verifier:    verifier,
		limiter:     limiter,
		policy:      policy,
		resolver:    resolver,
		pool:        pool,
		adapters:    adapters,
		maxAttempts: DefaultMaxAttempts,
		notifier:    notify.Nop{},
		logger:      logger,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Complete runs one request through the gateway state machine
func (g *Gateway) Complete(ctx context.Context, call Call) (*models.NormalizedResult, error) {
	start := time.Now()

	identity, err := g.verifier.Verify(call.Token)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"request_id": call.RequestID,
			"source":     call.SourceAddr,
		}).Debug("Caller authentication failed")
		return nil, &GatewayError{Kind: KindUnauthorized, Err: errors.New("invalid or missing token")}
	}

	log := logger.WithRequest(g.logger, call.RequestID, identity.UserID)
	if ws := call.Request.WorkspaceID; ws != "" {
		log = log.WithField("workspace_id", ws)
	}

	if err := call.Request.Validate(); err != nil {
		return nil, &GatewayError{Kind: KindInvalidRequest, Err: err}
	}

	if d := g.limiter.Check(g.policy, rateKey(identity, call)); !d.Allowed {
		g.recordRateLimited()
		return nil, &GatewayError{Kind: KindRateLimited, RetryAfter: d.RetryAfter}
	}

	resolved := g.resolver.Resolve(call.Request.Model)
	log = log.WithFields(logrus.Fields{
		"provider": resolved.Provider,
		"model":    resolved.UpstreamModelID,
	})

	result, err := g.dispatch(ctx, log, resolved, call.Request)
	status := "success"
	if err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) {
			status = string(ge.Kind)
		}
	}
	g.recordRequest(resolved, status, time.Since(start))
	if err != nil {
		return nil, err
	}
	g.recordTokens(result)

	log.WithFields(logrus.Fields{
		"attempts":     result.Attempts,
		"total_tokens": result.Usage.TotalTokens,
		"latency_ms":   time.Since(start).Milliseconds(),
	}).Info("AI request completed")

	if call.Request.ChannelID != "" {
		g.announce(call.Request.ChannelID, result)
	}
	return result, nil
}

// rateKey is the verified user id, else the source address. Request body
// fields such as the workspace id are caller-controlled and never part of it.
func rateKey(identity models.Identity, call Call) string {
	if identity.UserID != "" {
		return identity.UserID
	}
	return call.SourceAddr
}

func (g *Gateway) dispatch(ctx context.Context, log *logrus.Entry, resolved models.ResolvedModel, req models.ChatRequest) (*models.NormalizedResult, error) {
	adapter, ok := g.adapters[resolved.Provider]
	if !ok {
		return nil, &GatewayError{Kind: KindUnavailable, Err: fmt.Errorf("no adapter for provider %s", resolved.Provider)}
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &GatewayError{Kind: KindUnavailable, Err: err}
		}

		cred, err := g.pool.Acquire(resolved.Provider)
		if err != nil {
			g.recordAvailable(resolved.Provider)
			log.WithField("attempt", attempt).Warn("No healthy credential")
			if lastErr != nil {
				err = fmt.Errorf("%w (last upstream error: %v)", err, lastErr)
			}
			return nil, &GatewayError{Kind: KindUnavailable, Err: err}
		}

		result, err := adapter.Invoke(ctx, resolved, req.Messages, req.Params, cred)
		if err == nil {
			g.pool.ReportSuccess(cred)
			g.recordAttempt(resolved.Provider, "success")
			g.recordAvailable(resolved.Provider)
			result.Attempts = attempt
			if result.Provider == "" {
				result.Provider = resolved.Provider
			}
			return result, nil
		}

		var ue *UpstreamError
		if !errors.As(err, &ue) {
			ue = &UpstreamError{Class: ClassUnknown, Provider: resolved.Provider, Err: err}
		}
		g.recordAttempt(resolved.Provider, string(ue.Class))

		fields := logrus.Fields{
			"attempt":    attempt,
			"credential": cred.ID(),
			"class":      ue.Class,
		}

		// an upstream that answered with a rate limit cools the credential
		// even if the caller has since gone away
		if ue.Class == ClassRateLimited && ue.StatusCode != 0 {
			log.WithFields(fields).Warn("Upstream rate limited, cooling credential")
			g.coolDown(cred)
		}

		// the caller went away; nothing else is learned about the credential
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Info("Request cancelled by caller")
			return nil, &GatewayError{Kind: KindUnavailable, Err: ctx.Err()}
		}

		if ue.Class != ClassRateLimited {
			log.WithFields(fields).WithError(ue).Error("Upstream call failed")
			if ue.Class == ClassUnavailable {
				return nil, &GatewayError{Kind: KindUnavailable, Class: ue.Class, Err: ue}
			}
			return nil, &GatewayError{Kind: KindUpstreamFailure, Class: ue.Class, Err: ue}
		}

		if ue.StatusCode == 0 {
			log.WithFields(fields).Warn("Upstream rate limited, cooling credential")
			g.coolDown(cred)
		}
		lastErr = ue
	}

	return nil, &GatewayError{Kind: KindUnavailable, Err: fmt.Errorf("all %d attempts exhausted: %w", g.maxAttempts, lastErr)}
}

func (g *Gateway) announce(target string, result *models.NormalizedResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.notifier.Notify(ctx, target, notify.EventAIResponse, result); err != nil {
			g.logger.WithError(err).WithField("target", target).Warn("Failed to deliver notification")
		}
	}()
}

func (g *Gateway) coolDown(cred credentials.Credential) {
	g.pool.ReportRateLimited(cred)
	g.recordCoolDown(cred.Provider())
	g.recordAvailable(cred.Provider())
}

func (g *Gateway) recordRequest(resolved models.ResolvedModel, status string, d time.Duration) {
	if g.metrics != nil {
		g.metrics.RecordAIRequest(string(resolved.Provider), resolved.UpstreamModelID, status, d)
	}
}

func (g *Gateway) recordTokens(result *models.NormalizedResult) {
	if g.metrics != nil {
		g.metrics.RecordTokens(string(result.Provider), result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
}

func (g *Gateway) recordAttempt(provider models.Provider, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordUpstreamAttempt(string(provider), outcome)
	}
}

func (g *Gateway) recordCoolDown(provider models.Provider) {
	if g.metrics != nil {
		g.metrics.RecordCredentialCoolDown(string(provider))
	}
}

// recordAvailable refreshes the availability gauge; expired cool-downs show
// up on the next request for the provider or the next health check
func (g *Gateway) recordAvailable(provider models.Provider) {
	if g.metrics != nil {
		g.metrics.SetCredentialsAvailable(string(provider), g.pool.Snapshot()[provider].Available)
	}
}

func (g *Gateway) recordRateLimited() {
	if g.metrics != nil {
		g.metrics.RecordRateLimitExceeded(g.policy.Name)
	}
}
