package handlers

import (
	"errors"
	"net/http"

	"example.com/backstage/waterweb/internal/repository"
	"example.com/backstage/waterweb/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler serves device state
type DeviceHandler struct {
	devices service.DeviceStore
	log     *logrus.Logger
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(devices service.DeviceStore, log *logrus.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
		log:     log,
	}
}

// ListDevices returns every device with its effective status
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices, err := h.devices.List(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list devices")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list devices",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices})
}

// GetDevice returns a single device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	deviceID := c.Param("id")

	device, err := h.devices.Get(c.Request.Context(), deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Device not found",
		})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("device_id", deviceID).Error("Failed to get device")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get device",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": device})
}
