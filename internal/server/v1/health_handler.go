package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealth reports liveness of this service only; gpt-load health lives under
// /api/gptload/status.
//
// GET /health
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gptload-sync",
	})
}
