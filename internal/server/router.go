package server

import (
	"wallet-safety/internal/handler"
	"wallet-safety/internal/handler/response"
	"wallet-safety/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the read-only views the ops router exposes.
type Services struct {
	Networks handler.NetworkReader
	Gas      handler.GasReader
	Limits   handler.LimitsReader
	Recovery handler.RecoveryReader
}

// NewHTTPRouter builds the ops router and registers the HTTP metrics.
func NewHTTPRouter(svc Services) *gin.Engine {
	monitor.Init()

	r := gin.Default()
	r.Use(monitor.PrometheusMiddleware())

	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	networkHandler := handler.NewNetworkHandler(svc.Networks, svc.Gas, svc.Limits)
	recoveryHandler := handler.NewRecoveryHandler(svc.Recovery)

	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		networks := api.Group("/networks")
		networks.GET("", networkHandler.ListNetworks)
		networks.GET("/:network", networkHandler.GetNetwork)
		networks.GET("/:network/limits", networkHandler.GetLimits)
		networks.GET("/:network/gas", networkHandler.GetGasHistory)

		api.GET("/alerts", networkHandler.ListAlerts)

		api.GET("/recovery/:id", recoveryHandler.GetStatus)
		api.GET("/users/:user_id/recoveries", recoveryHandler.ListActive)
		api.GET("/wallets/:wallet_id/freeze", recoveryHandler.GetFreeze)
	}

	return r
}
