package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

// PasswordResetter issues and redeems reset tokens.
type PasswordResetter interface {
	RequestReset(ctx context.Context, req usecase.PasswordResetRequest) error
	ConfirmReset(ctx context.Context, req usecase.ConfirmPasswordResetRequest) error
}

// PasswordHandler exposes password reset endpoints.
type PasswordHandler struct {
	resets PasswordResetter
	logger *zap.Logger
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(resets PasswordResetter, logger *zap.Logger) *PasswordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PasswordHandler{resets: resets, logger: logger}
}

// RequestReset handles POST /v1/password-reset. Unknown identifiers get the same 202 as known ones.
func (h *PasswordHandler) RequestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	err := h.resets.RequestReset(c.Request.Context(), usecase.PasswordResetRequest{
		Identifier: req.Identifier,
		IP:         reqCtx.IP,
		UserAgent:  reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the account exists, reset instructions have been sent"})
}

// ConfirmReset handles POST /v1/password-reset/confirm.
func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	err := h.resets.ConfirmReset(c.Request.Context(), usecase.ConfirmPasswordResetRequest{
		Token:       req.Token,
		NewPassword: req.NewPassword,
		IP:          middleware.GetRequestContext(c).IP,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated, all sessions have been signed out"})
}
