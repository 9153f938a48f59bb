package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports 200 when ping succeeds and 503 otherwise.
func Health(ping func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}
