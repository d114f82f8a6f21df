package handler

import (
	"context"
	"time"

	"wallet-safety/internal/handler/request"
	"wallet-safety/internal/handler/response"
	"wallet-safety/internal/model"
	"wallet-safety/pkg/errno"

	"github.com/gin-gonic/gin"
)

const defaultAlertLimit = 50

type NetworkReader interface {
	States() []model.NetworkState
	GetNetworkState(network string) (model.NetworkState, error)
	GetAlerts(limit int) []model.Alert
}

type GasReader interface {
	GetGasHistory(ctx context.Context, network string, period time.Duration) (model.GasStats, error)
}

type LimitsReader interface {
	Limits(network string) (model.SecurityLimits, error)
}

// NetworkHandler exposes read-only chain conditions and policy.
type NetworkHandler struct {
	networks NetworkReader
	gas      GasReader
	limits   LimitsReader
}

func NewNetworkHandler(networks NetworkReader, gas GasReader, limits LimitsReader) *NetworkHandler {
	return &NetworkHandler{networks: networks, gas: gas, limits: limits}
}

// ListNetworks List monitored network states
// @Summary List monitored network states
// @Tags Network
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/networks [get]
func (h *NetworkHandler) ListNetworks(c *gin.Context) {
	response.Success(c, h.networks.States())
}

// GetNetwork Get one network's state
// @Summary Get one network's state
// @Tags Network
// @Produce json
// @Param network path string true "Network name"
// @Success 200 {object} response.Response
// @Router /api/v1/networks/{network} [get]
func (h *NetworkHandler) GetNetwork(c *gin.Context) {
	state, err := h.networks.GetNetworkState(c.Param("network"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, state)
}

// GetLimits Get a network's security limits
// @Summary Get a network's security limits
// @Tags Network
// @Produce json
// @Param network path string true "Network name"
// @Success 200 {object} response.Response
// @Router /api/v1/networks/{network}/limits [get]
func (h *NetworkHandler) GetLimits(c *gin.Context) {
	limits, err := h.limits.Limits(c.Param("network"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, limits)
}

// GetGasHistory Get gas price statistics
// @Summary Get gas price statistics
// @Tags Gas
// @Produce json
// @Param network path string true "Network name"
// @Param period query string false "Window such as 1h; empty covers the whole retained history"
// @Success 200 {object} response.Response
// @Router /api/v1/networks/{network}/gas [get]
func (h *NetworkHandler) GetGasHistory(c *gin.Context) {
	var q request.GasHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	var period time.Duration
	if q.Period != "" {
		d, err := time.ParseDuration(q.Period)
		if err != nil || d < 0 {
			response.Error(c, errno.ErrBind)
			return
		}
		period = d
	}

	stats, err := h.gas.GetGasHistory(c.Request.Context(), c.Param("network"), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// ListAlerts List recent monitor alerts
// @Summary List recent monitor alerts
// @Tags Network
// @Produce json
// @Param limit query int false "Max alerts, default 50"
// @Success 200 {object} response.Response
// @Router /api/v1/alerts [get]
func (h *NetworkHandler) ListAlerts(c *gin.Context) {
	var q request.AlertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultAlertLimit
	}
	response.Success(c, h.networks.GetAlerts(q.Limit))
}
