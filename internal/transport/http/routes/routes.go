package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/transport/http/handlers"
	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth          *usecase.AuthCoordinator
	Otp           *usecase.OtpService
	PasswordReset *usecase.PasswordResetService
	Sessions      *usecase.SessionManager
	Security      *usecase.AccountSecurityService
	IPBlocks      *usecase.IPBlocker
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Services    ServiceSet
	HTTPMetrics *middleware.HTTPMetrics
	// MetricsHandler serves /metrics. Defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		corsOrigins []string
		adminToken  string
	)
	if deps.Config != nil {
		if deps.Config.App.Env == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		corsOrigins = deps.Config.App.CORSOrigins
		adminToken = deps.Config.App.AdminToken
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(corsOrigins) > 0 {
		r.Use(middleware.CORS(corsOrigins))
	}

	healthHandler := handlers.NewHealthHandler(logger)
	if deps.Database != nil {
		healthHandler.WithReadinessCheck("database", deps.Database.Ping)
	}
	if deps.Cache != nil {
		healthHandler.WithReadinessCheck("redis", deps.Cache.HealthCheck)
	}

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := r.Group("/v1")
	services := deps.Services

	if services.Auth != nil {
		authHandler := handlers.NewAuthHandler(services.Auth, logger)
		v1.POST("/auth/login", authHandler.Login)
		v1.POST("/auth/login/otp", authHandler.LoginWithOtp)
		v1.POST("/contacts/verify", authHandler.VerifyContact)
	}

	if services.Otp != nil {
		otpHandler := handlers.NewOtpHandler(services.Otp, logger)
		v1.POST("/otp", otpHandler.Issue)
	}

	if services.PasswordReset != nil {
		passwordHandler := handlers.NewPasswordHandler(services.PasswordReset, logger)
		v1.POST("/password-reset", passwordHandler.RequestReset)
		v1.POST("/password-reset/confirm", passwordHandler.ConfirmReset)
	}

	if services.Sessions != nil {
		requireSession := middleware.RequireSession(services.Sessions, logger)

		var security handlers.SecuritySummarizer
		if services.Security != nil {
			security = services.Security
		}
		sessionHandler := handlers.NewSessionHandler(services.Sessions, security, logger)

		sessions := v1.Group("/sessions", requireSession)
		sessions.GET("", sessionHandler.List)
		sessions.DELETE("", sessionHandler.RevokeAll)
		sessions.DELETE("/:id", sessionHandler.Revoke)

		if security != nil {
			v1.GET("/account/security", requireSession, sessionHandler.SecuritySummary)
		}
	}

	if services.IPBlocks != nil && adminToken != "" {
		adminHandler := handlers.NewAdminHandler(services.IPBlocks, logger)
		admin := v1.Group("/admin", middleware.RequireAdminToken(adminToken))
		admin.POST("/ip-blocks", adminHandler.BlockIP)
		admin.DELETE("/ip-blocks/:ip", adminHandler.UnblockIP)
	}

	return r
}
