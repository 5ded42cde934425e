package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func registerHealthRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		checks := []struct {
			component string
			pinger    Pinger
		}{
			{"postgres", deps.DB},
			{"blob", deps.Blobs},
		}
		for _, check := range checks {
			if check.pinger == nil {
				continue
			}
			if err := check.pinger.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "degraded",
					"component": check.component,
					"error":     err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
