package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectionChecker reports whether the broker link is up
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthCheck handles health check requests
func HealthCheck(bus ConnectionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"service":        "waterweb",
			"mqtt_connected": bus != nil && bus.IsConnected(),
		})
	}
}
