package routes

import (
	"example.com/backstage/waterweb/api/handlers"
	"example.com/backstage/waterweb/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, svc *service.Services, stats handlers.StatsProvider, bus handlers.ConnectionChecker, log *logrus.Logger) {
	r.GET("/health", handlers.HealthCheck(bus))

	api := r.Group("/api")

	deviceHandler := handlers.NewDeviceHandler(svc.Devices, log)
	devices := api.Group("/devices")
	{
		devices.GET("", deviceHandler.ListDevices)
		devices.GET("/:id", deviceHandler.GetDevice)
	}

	metricsHandler := handlers.NewMetricsHandler(svc.Metrics, log)
	metrics := api.Group("/metrics")
	{
		metrics.GET("", metricsHandler.ListMetrics)
		metrics.GET("/latest", metricsHandler.LatestMetrics)
	}

	commandHandler := handlers.NewCommandHandler(svc.Commands, log)
	api.GET("/commands", commandHandler.ListCommands)
	api.POST("/iot/command", commandHandler.SubmitCommand)

	// System monitoring
	api.GET("/ingest/stats", handlers.IngestStats(stats))
}
