package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolcore/identity-service/internal/infrastructure/kv"
)

// HealthHandler answers liveness and readiness probes. Readiness checks the
// two hard dependencies.
type HealthHandler struct {
	pool  *pgxpool.Pool
	store *kv.Store
}

func NewHealthHandler(pool *pgxpool.Pool, store *kv.Store) *HealthHandler {
	return &HealthHandler{pool: pool, store: store}
}

func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true

	if err := h.pool.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := h.store.Client().Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"checks": checks})
}
