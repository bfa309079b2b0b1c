package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/version"
)

// HealthHandler responds with basic service metadata for uptime checks.
func HealthHandler(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	for k, v := range version.Info() {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}
