package handlers

import (
	"errors"
	"net/http"

	"example.com/backstage/waterweb/internal/ingest"
	"example.com/backstage/waterweb/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CommandHandler accepts operator commands and lists the command log
type CommandHandler struct {
	commands service.CommandCorrelator
	log      *logrus.Logger
}

// NewCommandHandler creates a new CommandHandler instance
func NewCommandHandler(commands service.CommandCorrelator, log *logrus.Logger) *CommandHandler {
	return &CommandHandler{
		commands: commands,
		log:      log,
	}
}

// SubmitCommand handles POST /api/iot/command. The body goes through the same
// decoding and correlation path as commands arriving on the bus.
func (h *CommandHandler) SubmitCommand(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	payload, err := ingest.Decode(c.Request.URL.Path, raw)
	if err != nil {
		h.log.WithError(err).Warn("Invalid command format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	resp, err := h.commands.Handle(c.Request.Context(), payload, "", service.SourceAPI)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"downlink": resp,
		})
	case service.IsRejected(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, service.ErrPublishFailed):
		h.log.WithError(err).Error("Failed to publish command reply")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to publish command reply",
		})
	default:
		h.log.WithError(err).Error("Failed to record command")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record command",
		})
	}
}

// ListCommands handles GET /api/commands?device_id=&limit=
func (h *CommandHandler) ListCommands(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit",
		})
		return
	}

	views, err := h.commands.List(c.Request.Context(), service.CommandQuery{
		DeviceID: c.Query("device_id"),
		Limit:    limit,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to list commands")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list commands",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}
