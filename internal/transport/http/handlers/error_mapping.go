package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

// ErrorCase maps a sentinel error to a problem type, HTTP status and detail message.
type ErrorCase struct {
	Err    error
	Slug   string
	Title  string
	Status int
	Detail string
}

// errorCases is checked in order; typed errors carrying retry hints are handled before this table.
var errorCases = []ErrorCase{
	{Err: usecase.ErrInvalidRequest, Slug: "invalid-request", Title: "Invalid Request", Status: http.StatusBadRequest},
	{Err: usecase.ErrInvalidCredentials, Slug: "invalid-credentials", Title: "Invalid Credentials", Status: http.StatusUnauthorized, Detail: "identifier or password is incorrect"},
	{Err: usecase.ErrInvalidCode, Slug: "invalid-code", Title: "Invalid Code", Status: http.StatusUnauthorized, Detail: "the code is incorrect"},
	{Err: usecase.ErrOtpNotFound, Slug: "otp-not-found", Title: "Code Not Found", Status: http.StatusNotFound, Detail: "no active code for this contact"},
	{Err: usecase.ErrOtpExpired, Slug: "otp-expired", Title: "Code Expired", Status: http.StatusGone, Detail: "the code has expired, request a new one"},
	{Err: usecase.ErrOtpExhausted, Slug: "otp-exhausted", Title: "Too Many Attempts", Status: http.StatusGone, Detail: "the code can no longer be used, request a new one"},
	{Err: usecase.ErrInvalidResetToken, Slug: "invalid-reset-token", Title: "Invalid Reset Token", Status: http.StatusBadRequest, Detail: "the reset link is invalid or has expired"},
	{Err: usecase.ErrWeakPassword, Slug: "weak-password", Title: "Weak Password", Status: http.StatusUnprocessableEntity},
	{Err: usecase.ErrSessionNotFound, Slug: "session-not-found", Title: "Session Not Found", Status: http.StatusNotFound},
	{Err: usecase.ErrAccountNotFound, Slug: "account-not-found", Title: "Account Not Found", Status: http.StatusNotFound},
	{Err: usecase.ErrForbidden, Slug: "forbidden", Title: "Forbidden", Status: http.StatusForbidden},
	{Err: usecase.ErrDeliveryFailed, Slug: "delivery-failed", Title: "Delivery Failed", Status: http.StatusBadGateway, Detail: "the code could not be delivered, try again"},
	{Err: usecase.ErrTemporarilyUnavailable, Slug: "temporarily-unavailable", Title: "Temporarily Unavailable", Status: http.StatusServiceUnavailable},
}

// RespondWithError renders err as RFC 7807 problem JSON. Lock, block and rate-limit errors carry Retry-After.
// Unknown errors are logged and returned as a generic 500 without detail.
func RespondWithError(c *gin.Context, log *zap.Logger, err error) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var rateErr *usecase.RateLimitExceededError
	if errors.As(err, &rateErr) {
		middleware.AbortWithProblem(c, middleware.Problem{
			Slug:       "rate-limit-exceeded",
			Title:      "Rate Limit Exceeded",
			Status:     http.StatusTooManyRequests,
			Detail:     "too many attempts, try again later",
			RetryAfter: rateErr.RetryAfter,
			Extensions: map[string]any{"scope": rateErr.Scope},
		})
		return
	}

	var blockedErr *usecase.IPBlockedError
	if errors.As(err, &blockedErr) {
		middleware.AbortWithProblem(c, middleware.Problem{
			Slug:       "ip-blocked",
			Title:      "Address Blocked",
			Status:     http.StatusForbidden,
			Detail:     "requests from this address are temporarily blocked",
			RetryAfter: blockedErr.RetryAfter,
		})
		return
	}

	var lockErr *usecase.AccountLockedError
	if errors.As(err, &lockErr) {
		middleware.AbortWithProblem(c, middleware.Problem{
			Slug:       "account-locked",
			Title:      "Account Locked",
			Status:     http.StatusLocked,
			Detail:     "the account is temporarily locked after repeated failures",
			RetryAfter: lockErr.RetryAfter(time.Now()),
			Extensions: map[string]any{"locked_until": lockErr.Until.UTC().Format(time.RFC3339)},
		})
		return
	}

	for _, cs := range errorCases {
		if errors.Is(err, cs.Err) {
			detail := cs.Detail
			if cs.Err == usecase.ErrWeakPassword || cs.Err == usecase.ErrInvalidRequest {
				detail = err.Error()
			}
			middleware.AbortWithProblem(c, middleware.Problem{
				Slug:   cs.Slug,
				Title:  cs.Title,
				Status: cs.Status,
				Detail: detail,
			})
			return
		}
	}

	if log != nil {
		log.Error("unhandled error", zap.String("trace_id", middleware.GetTraceID(c)), zap.Error(err))
	}
	_ = c.Error(err)
	middleware.AbortWithProblem(c, middleware.Problem{
		Slug:   "internal",
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
	})
}

// respondBindingError reports a malformed request body.
func respondBindingError(c *gin.Context, err error) {
	middleware.AbortWithProblem(c, middleware.Problem{
		Slug:   "invalid-request",
		Title:  "Invalid Request",
		Status: http.StatusBadRequest,
		Detail: err.Error(),
	})
}
