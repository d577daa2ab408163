package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/response"
)

const readinessTimeout = 2 * time.Second

// Check pings one backing service.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and readiness.
type HealthHandler struct {
	startTime time.Time
	checks    map[string]Check
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. checks maps a dependency name
// ("postgres", "redis") to its ping.
func NewHealthHandler(checks map[string]Check, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		checks:    checks,
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

// Live godoc
// GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status":     "ok",
		"uptime":     time.Since(h.startTime).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	})
}

// Ready godoc
// GET /ready
// Pings every dependency; 503 when any of them fails.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	if !healthy {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrInternal,
			gin.H{"status": "degraded", "dependencies": status})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ready", "dependencies": status})
}
