package handlers

import (
	"net/http"

	"github.com/ai-gateway-go/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RouterConfig collects what NewRouter wires together
type RouterConfig struct {
	Chat          *ChatHandler
	Health        *HealthHandler
	Responder     *Responder
	Limiter       middleware.RateLimiter
	GeneralPolicy middleware.Policy
	ClientIPs     *middleware.ClientIPResolver
	Metrics       *middleware.Metrics
	MetricsPath   string
	MaxBodyBytes  int64
	Logger        *logrus.Logger
}

// NewRouter builds the HTTP surface
func NewRouter(cfg RouterConfig) *mux.Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = middleware.DefaultMaxBodyBytes
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Logging(cfg.Logger), cfg.Metrics.Instrument)

	router.HandleFunc("/health", cfg.Health.HandleHealth).Methods(http.MethodGet)
	if cfg.MetricsPath != "" {
		router.Handle(cfg.MetricsPath, cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(
		middleware.GeneralRateLimit(cfg.Limiter, cfg.GeneralPolicy, cfg.ClientIPs, cfg.Metrics, cfg.Responder.RateLimited),
		middleware.MaxBodyBytes(cfg.MaxBodyBytes),
	)
	api.HandleFunc("/ai/chat", cfg.Chat.HandleChat).Methods(http.MethodPost)

	return router
}
