package handlers

import (
	"net/http"

	"example.com/backstage/waterweb/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MetricsHandler serves the metrics log
type MetricsHandler struct {
	metrics service.MetricsLog
	log     *logrus.Logger
}

// NewMetricsHandler creates a new MetricsHandler instance
func NewMetricsHandler(metrics service.MetricsLog, log *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		log:     log,
	}
}

// ListMetrics handles GET /api/metrics?device_id=&start=&end=&limit=
func (h *MetricsHandler) ListMetrics(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit",
		})
		return
	}

	samples, err := h.metrics.Query(c.Request.Context(), service.MetricQuery{
		DeviceID: c.Query("device_id"),
		Start:    c.Query("start"),
		End:      c.Query("end"),
		Limit:    limit,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to list metrics")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list metrics",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": samples})
}

// LatestMetrics returns the newest samples for analysis consumers
func (h *MetricsHandler) LatestMetrics(c *gin.Context) {
	count, ok := intQuery(c, "count")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid count",
		})
		return
	}

	samples, err := h.metrics.Latest(c.Request.Context(), c.Query("device_id"), count)
	if err != nil {
		h.log.WithError(err).Error("Failed to get latest metrics")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get latest metrics",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": samples})
}
