package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports the state of a long-lived connection.
type HealthChecker interface {
	IsHealthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	database  Pinger
	publisher HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance. publisher may be nil
// when event publication is disabled.
func NewHealthHandler(database Pinger, publisher HealthChecker) *HealthHandler {
	return &HealthHandler{
		database:  database,
		publisher: publisher,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.database.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "DOWN",
			"database": "unhealthy",
			"error":    err.Error(),
			"time":     time.Now(),
		})
		return
	}

	body := gin.H{
		"status":   "UP",
		"database": "healthy",
		"time":     time.Now(),
	}

	if h.publisher != nil {
		if !h.publisher.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"rabbitmq": "unhealthy",
				"time":     time.Now(),
			})
			return
		}
		body["rabbitmq"] = "healthy"
	}

	c.JSON(http.StatusOK, body)
}
