package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthChecker is anything the readiness check can ask about its state
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ReadinessDeps lists the dependencies checked by the readiness check
type ReadinessDeps interface {
	HealthCheckers() map[string]HealthChecker
	ServiceLogger() *zap.Logger
}

// ReadinessResponse is the body of the readiness check
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck returns a simple liveness handler
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessCheck reports 200 only when every dependency answers
func ReadinessCheck(deps ReadinessDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		response := ReadinessResponse{
			Status: "ready",
			Checks: map[string]string{},
		}

		for name, checker := range deps.HealthCheckers() {
			if err := checker.Health(ctx); err != nil {
				response.Status = "not_ready"
				response.Checks[name] = "unhealthy"
				deps.ServiceLogger().Warn("readiness check failed",
					zap.String("check", name),
					zap.Error(err))
				continue
			}
			response.Checks[name] = "healthy"
		}

		status := http.StatusOK
		if response.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		_ = utils.WriteJSON(w, status, response)
	}
}
