package handlers

import (
	"net/http"

	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/credentials"
)

// PoolStatus reports credential health per provider
type PoolStatus interface {
	Snapshot() map[models.Provider]credentials.Status
}

// HealthHandler serves GET /health
type HealthHandler struct {
	pool      PoolStatus
	metrics   *middleware.Metrics
	responder *Responder
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(pool PoolStatus, metrics *middleware.Metrics, responder *Responder) *HealthHandler {
	return &HealthHandler{pool: pool, metrics: metrics, responder: responder}
}

type healthResponse struct {
	Status      string                                 `json:"status"`
	Credentials map[models.Provider]credentials.Status `json:"credentials"`
}

// HandleHealth reports "ok" while every configured provider has a usable key
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.pool.Snapshot()

	status := "ok"
	for provider, s := range snap {
		h.metrics.SetCredentialsAvailable(string(provider), s.Available)
		if s.Available == 0 && s.CoolingDown > 0 {
			status = "degraded"
		}
	}

	h.responder.writeJSON(w, http.StatusOK, healthResponse{Status: status, Credentials: snap})
}
