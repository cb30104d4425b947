package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_gateway_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ai_gateway_ai_request_duration_seconds",
		Help:    "Duration of AI requests",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"provider", "model", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_ai_requests_total",
		Help: "Total number of AI requests",
	}, []string{"provider", "model", "status"})

	upstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_upstream_attempts_total",
		Help: "Upstream calls by provider and outcome",
	}, []string{"provider", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_tokens_total",
		Help: "Tokens reported by upstream providers",
	}, []string{"provider", "kind"})

	credentialCoolDowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_credential_cooldowns_total",
		Help: "Credentials put into cool-down after an upstream rate limit",
	}, []string{"provider"})

	credentialsAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ai_gateway_credentials_available",
		Help: "Credentials currently available per provider",
	}, []string{"provider"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_gateway_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"policy"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordAIRequest records a finished gateway request
func (m *Metrics) RecordAIRequest(provider, model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(provider, model, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(provider, model, status).Inc()
}

// RecordUpstreamAttempt records one adapter invocation
func (m *Metrics) RecordUpstreamAttempt(provider, outcome string) {
	upstreamAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordTokens adds upstream-reported token usage
func (m *Metrics) RecordTokens(provider string, prompt, completion int) {
	tokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	tokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
}

// RecordCredentialCoolDown records a credential entering cool-down
func (m *Metrics) RecordCredentialCoolDown(provider string) {
	credentialCoolDowns.WithLabelValues(provider).Inc()
}

// SetCredentialsAvailable sets the available credential gauge
func (m *Metrics) SetCredentialsAvailable(provider string, count int) {
	credentialsAvailable.WithLabelValues(provider).Set(float64(count))
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(policy string) {
	rateLimitExceeded.WithLabelValues(policy).Inc()
}

// Instrument records request counts and latency per mux route template
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the Prometheus registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a dedicated metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
