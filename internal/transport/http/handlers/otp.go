package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

// OtpIssuer issues one-time codes.
type OtpIssuer interface {
	Issue(ctx context.Context, req usecase.IssueOtpRequest) (*usecase.IssueOtpResult, error)
}

// OtpHandler exposes code issuance.
type OtpHandler struct {
	otp    OtpIssuer
	logger *zap.Logger
}

// NewOtpHandler constructs OtpHandler.
func NewOtpHandler(otp OtpIssuer, logger *zap.Logger) *OtpHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OtpHandler{otp: otp, logger: logger}
}

// Issue handles POST /v1/otp. The response never reveals whether the contact belongs to an account.
func (h *OtpHandler) Issue(c *gin.Context) {
	var req IssueOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	result, err := h.otp.Issue(c.Request.Context(), usecase.IssueOtpRequest{
		Contact:     req.Contact,
		Channel:     domain.Channel(req.Channel),
		Purpose:     domain.OtpPurpose(req.Purpose),
		RequesterIP: middleware.GetRequestContext(c).IP,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, IssueOtpResponse{
		ChallengeID: result.ChallengeID,
		ExpiresAt:   result.ExpiresAt,
	})
}
