package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/api/handlers"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// SetupRoutes registers the scoring API and the health check.
func SetupRoutes(router *gin.Engine, scoreHandler *handlers.ScoreHandler, redisClient *redis.Client) {
	router.GET("/health", healthCheck(redisClient))

	v1 := router.Group("/api/v1")
	{
		score := v1.Group("/score")
		{
			score.POST("/liquidation", scoreHandler.ScoreLiquidations)
			score.POST("/divergence", scoreHandler.ScoreDivergence)
			score.GET("/snapshot/:symbol", scoreHandler.GetSnapshot)
		}
	}
}

func healthCheck(redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services:  map[string]string{"redis": "ok"},
		}

		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				response.Services["redis"] = "error"
				response.Status = "degraded"
			}
		} else {
			response.Services["redis"] = "not configured"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
