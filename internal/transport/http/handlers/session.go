package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

const (
	revokeReasonUser = "user_request"
	summaryWindow    = 30 * 24 * time.Hour
)

// SessionService lists and terminates sessions on behalf of the caller.
type SessionService interface {
	List(ctx context.Context, accountID string) ([]domain.Session, error)
	Revoke(ctx context.Context, sessionID, requestingAccountID, ip string) error
	RevokeAll(ctx context.Context, accountID string, exceptSessionID *string, ip, reason string) (int, error)
}

// SecuritySummarizer reports recent security activity for an account.
type SecuritySummarizer interface {
	Summary(ctx context.Context, accountID string, since time.Time) (*domain.SecuritySummary, error)
}

// SessionHandler exposes session management for the authenticated caller.
type SessionHandler struct {
	sessions SessionService
	security SecuritySummarizer
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionHandler constructs SessionHandler. security may be nil when the summary endpoint is not mounted.
func NewSessionHandler(sessions SessionService, security SecuritySummarizer, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, security: security, logger: logger, now: time.Now}
}

// List handles GET /v1/sessions.
func (h *SessionHandler) List(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		RespondWithError(c, h.logger, usecase.ErrSessionNotFound)
		return
	}
	currentID, _ := middleware.GetAuthenticatedSessionID(c)

	sessions, err := h.sessions.List(c.Request.Context(), accountID)
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionSummary(session, currentID))
	}
	c.JSON(http.StatusOK, resp)
}

// Revoke handles DELETE /v1/sessions/:id.
func (h *SessionHandler) Revoke(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		RespondWithError(c, h.logger, usecase.ErrSessionNotFound)
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), c.Param("id"), accountID, middleware.GetRequestContext(c).IP); err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeAll handles DELETE /v1/sessions. The calling session survives unless ?include_current=true.
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		RespondWithError(c, h.logger, usecase.ErrSessionNotFound)
		return
	}

	var except *string
	if currentID, ok := middleware.GetAuthenticatedSessionID(c); ok && c.Query("include_current") != "true" {
		except = &currentID
	}

	revoked, err := h.sessions.RevokeAll(c.Request.Context(), accountID, except, middleware.GetRequestContext(c).IP, revokeReasonUser)
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, RevokeSessionsResponse{Revoked: revoked})
}

// SecuritySummary handles GET /v1/account/security for the last 30 days.
func (h *SessionHandler) SecuritySummary(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok || h.security == nil {
		RespondWithError(c, h.logger, usecase.ErrSessionNotFound)
		return
	}

	summary, err := h.security.Summary(c.Request.Context(), accountID, h.now().Add(-summaryWindow))
	if err != nil {
		RespondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toSecuritySummary(summary))
}
