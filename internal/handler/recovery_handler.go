package handler

import (
	"context"

	"wallet-safety/internal/handler/request"
	"wallet-safety/internal/handler/response"
	"wallet-safety/internal/model"
	"wallet-safety/pkg/errno"

	"github.com/gin-gonic/gin"
)

type RecoveryReader interface {
	GetRecoveryStatus(ctx context.Context, requestID string) (*model.RecoveryRequest, error)
	ListActiveRecoveries(ctx context.Context, userID uint64) ([]*model.RecoveryRequest, error)
	GetFreeze(ctx context.Context, walletID uint64) (*model.FreezeRecord, error)
}

// RecoveryHandler is read-only; state changes go through the coordinator's
// callers, not the ops surface.
type RecoveryHandler struct {
	recovery RecoveryReader
}

func NewRecoveryHandler(recovery RecoveryReader) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery}
}

// GetStatus Get a recovery request
// @Summary Get a recovery request
// @Tags Recovery
// @Produce json
// @Param id path string true "Recovery request id"
// @Success 200 {object} response.Response
// @Router /api/v1/recovery/{id} [get]
func (h *RecoveryHandler) GetStatus(c *gin.Context) {
	req, err := h.recovery.GetRecoveryStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, req)
}

// ListActive List a user's live recovery requests
// @Summary List a user's live recovery requests
// @Tags Recovery
// @Produce json
// @Param user_id path int true "User id"
// @Success 200 {object} response.Response
// @Router /api/v1/users/{user_id}/recoveries [get]
func (h *RecoveryHandler) ListActive(c *gin.Context) {
	var uri request.UserURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	reqs, err := h.recovery.ListActiveRecoveries(c.Request.Context(), uri.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if reqs == nil {
		reqs = []*model.RecoveryRequest{}
	}
	response.Success(c, reqs)
}

// GetFreeze Get a wallet's freeze
// @Summary Get a wallet's freeze
// @Tags Recovery
// @Produce json
// @Param wallet_id path int true "Wallet id"
// @Success 200 {object} response.Response
// @Router /api/v1/wallets/{wallet_id}/freeze [get]
func (h *RecoveryHandler) GetFreeze(c *gin.Context) {
	var uri request.WalletURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	rec, err := h.recovery.GetFreeze(c.Request.Context(), uri.WalletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"frozen": rec != nil, "freeze": rec})
}
