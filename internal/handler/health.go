package handler

import (
	"wallet-safety/internal/handler/response"

	"github.com/gin-gonic/gin"
)

// HealthCheck Check engine liveness
// @Summary Check engine liveness
// @Tags system
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":  "UP",
		"version": "1.0.0",
		"service": "safety-engine",
	})
}
