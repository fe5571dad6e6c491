package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsProvider exposes worker pool statistics
type StatsProvider interface {
	QueueStats() map[string]interface{}
}

// IngestStats returns statistics about the inbound message processor
func IngestStats(stats StatsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"stats":  stats.QueueStats(),
		})
	}
}
