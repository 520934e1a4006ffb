package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/usecase"
)

// SessionKeyHeader carries the opaque session key issued at login.
const SessionKeyHeader = "X-Session-Key"

// SessionAuthenticator resolves an opaque session key to an active session.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, sessionKey string) (*domain.Session, error)
}

// RequireSession resolves the caller from the X-Session-Key header and stores the account and session IDs.
func RequireSession(sessions SessionAuthenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(SessionKeyHeader)
		if key == "" {
			AbortWithProblem(c, Problem{
				Slug:   "unauthenticated",
				Title:  "Unauthenticated",
				Status: http.StatusUnauthorized,
				Detail: "missing session key",
			})
			return
		}

		session, err := sessions.Authenticate(c.Request.Context(), key)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrSessionNotFound):
				AbortWithProblem(c, Problem{
					Slug:   "unauthenticated",
					Title:  "Unauthenticated",
					Status: http.StatusUnauthorized,
					Detail: "session is not active",
				})
			case errors.Is(err, usecase.ErrTemporarilyUnavailable):
				AbortWithProblem(c, Problem{
					Slug:   "temporarily-unavailable",
					Title:  "Temporarily Unavailable",
					Status: http.StatusServiceUnavailable,
				})
			default:
				log.Error("session authentication failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
				AbortWithProblem(c, Problem{
					Slug:   "internal",
					Title:  "Internal Server Error",
					Status: http.StatusInternalServerError,
				})
			}
			return
		}

		c.Set(AccountIDKey, session.AccountID)
		c.Set(SessionIDKey, session.ID)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = session.AccountID
			reqCtx.SessionID = session.ID
		}

		c.Next()
	}
}
