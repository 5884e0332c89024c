package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is implemented by the reading store
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus is implemented by the broker session
type BrokerStatus interface {
	IsConnected() bool
}

// QueueStatus is implemented by the job queue
type QueueStatus interface {
	Len() int
	Cap() int
}

// HealthChecker reports the state of the loader's dependencies
type HealthChecker struct {
	store  Pinger
	broker BrokerStatus
	queue  QueueStatus
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store Pinger, broker BrokerStatus, queue QueueStatus) *HealthChecker {
	return &HealthChecker{store: store, broker: broker, queue: queue}
}

// GetHealthStatus returns the current health status and whether every check passed
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	checks := make(map[string]interface{})
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		healthy = false
		checks["store"] = gin.H{"status": "error", "error": err.Error()}
	} else {
		checks["store"] = gin.H{"status": "ok"}
	}

	if h.broker.IsConnected() {
		checks["mqtt"] = gin.H{"status": "ok"}
	} else {
		healthy = false
		checks["mqtt"] = gin.H{"status": "disconnected"}
	}

	checks["queue"] = gin.H{"depth": h.queue.Len(), "capacity": h.queue.Cap()}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, healthy
}

// RegisterRoutes mounts /health/live, /health and, when metrics is non-nil, /metrics
func RegisterRoutes(r gin.IRouter, h *HealthChecker, metrics http.Handler) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status, healthy := h.GetHealthStatus(ctx)
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
