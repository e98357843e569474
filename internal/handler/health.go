package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency whose reachability is reported by the health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler implements the liveness endpoint
type HealthHandler struct {
	storage Pinger
	cache   Pinger
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil storage means the
// in-memory repositories are in use; a nil cache means caching is off.
func NewHealthHandler(storage, cache Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		cache:   cache,
		logger:  logger,
	}
}

// GetHealth reports liveness. Storage being unreachable is a 503; the
// cache is optional and only reported.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := api.HealthResponse{Status: "ok", Storage: "memory"}
	status := http.StatusOK

	if h.storage != nil {
		resp.Storage = "ok"
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Error("storage ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Storage = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("cache ping failed", zap.Error(err))
			resp.Cache = "unreachable"
		}
	}

	c.JSON(status, resp)
}
