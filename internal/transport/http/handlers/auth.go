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

// LoginService is the subset of the auth coordinator used by the HTTP layer.
type LoginService interface {
	Login(ctx context.Context, req usecase.LoginRequest) (*usecase.LoginResult, error)
	LoginWithOtp(ctx context.Context, req usecase.OtpLoginRequest) (*usecase.LoginResult, error)
	VerifyContact(ctx context.Context, req usecase.VerifyContactRequest) error
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth   LoginService
	logger *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth LoginService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// Login handles POST /v1/auth/login.
// 200 with status "success" carries the session key; 202 with status "otp_required" means a code must follow.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.auth.Login(c.Request.Context(), usecase.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		IP:         reqCtx.IP,
		UserAgent:  reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	h.respondLogin(c, result)
}

// LoginWithOtp handles POST /v1/auth/login/otp.
func (h *AuthHandler) LoginWithOtp(c *gin.Context) {
	var req OtpLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	result, err := h.auth.LoginWithOtp(c.Request.Context(), usecase.OtpLoginRequest{
		Contact:   req.Contact,
		Code:      req.Code,
		IP:        reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	h.respondLogin(c, result)
}

// VerifyContact handles POST /v1/contacts/verify.
func (h *AuthHandler) VerifyContact(c *gin.Context) {
	var req VerifyContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	err := h.auth.VerifyContact(c.Request.Context(), usecase.VerifyContactRequest{
		Contact: req.Contact,
		Purpose: domain.OtpPurpose(req.Purpose),
		Code:    req.Code,
		IP:      middleware.GetRequestContext(c).IP,
	})
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "contact verified"})
}

func (h *AuthHandler) respondLogin(c *gin.Context, result *usecase.LoginResult) {
	if result.Status == usecase.LoginStatusOtpRequired || result.Session == nil {
		c.JSON(http.StatusAccepted, LoginResponse{
			Status:    string(usecase.LoginStatusOtpRequired),
			AccountID: result.AccountID,
		})
		return
	}

	summary := toSessionSummary(*result.Session, result.Session.ID)
	c.JSON(http.StatusOK, LoginResponse{
		Status:     string(result.Status),
		AccountID:  result.AccountID,
		SessionKey: result.Session.SessionKey,
		Session:    &summary,
	})
}
