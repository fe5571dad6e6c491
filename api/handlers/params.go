package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// intQuery reads an optional integer query parameter. A missing parameter is 0.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
