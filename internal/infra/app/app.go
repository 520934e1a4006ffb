package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/infra/delivery"
	kafkainfra "github.com/arklim/auth-core/internal/infra/kafka"
	"github.com/arklim/auth-core/internal/infra/logger"
	"github.com/arklim/auth-core/internal/infra/rabbitmq"
	"github.com/arklim/auth-core/internal/infra/reaper"
	"github.com/arklim/auth-core/internal/infra/security"
	"github.com/arklim/auth-core/internal/infra/telemetry"
	"github.com/arklim/auth-core/internal/transport/http/middleware"
	"github.com/arklim/auth-core/internal/transport/http/routes"
	"github.com/arklim/auth-core/internal/usecase"
)

// Application owns the HTTP server and every long-lived dependency behind it.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	storage  *Storage
	counters *Counters
	tracer   *telemetry.TracerProvider
	events   *usecase.SecurityLogger
	alerts   *usecase.SecurityAlerter
	reaper   *reaper.Scheduler
	closers  []func() error
}

// New wires the service from configuration. On error every dependency opened so far is released.
func New(ctx context.Context, cfg *config.AppConfig) (app *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if a.storage, err = OpenStorage(ctx, cfg, log); err != nil {
		return nil, err
	}
	if a.counters, err = OpenCounters(ctx, cfg, log); err != nil {
		return nil, err
	}

	authMetrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}
	otpHasher, err := security.NewOtpHasher(cfg.Otp.Pepper)
	if err != nil {
		return nil, fmt.Errorf("init otp hasher: %w", err)
	}
	policy := security.NewPasswordPolicy(security.PasswordPolicyConfig{
		MinLength:   cfg.Password.MinLength,
		MaxLength:   cfg.Password.MaxLength,
		MinStrength: cfg.Password.MinStrength,
	})

	gateway, err := a.buildDelivery(cfg, log)
	if err != nil {
		return nil, err
	}

	a.events = usecase.NewSecurityLogger(a.storage.SecurityEvents, a.buildPublisher(cfg, log), cfg.SecurityLogger.BufferSize, log).
		WithMetrics(authMetrics)

	blocker := usecase.NewIPBlocker(a.counters.Blocklist, a.events, log).
		WithDurations(cfg.IPBlock.DefaultDuration, cfg.IPBlock.MaxDuration)
	if cfg.Alerts.Enabled {
		a.alerts = usecase.NewSecurityAlerter(gateway, usecase.AlertConfig{
			Timeout:     cfg.Alerts.Timeout,
			MaxInFlight: cfg.Alerts.MaxInFlight,
		}, log)
	}

	limiter := usecase.NewRateLimiter(a.counters.Store, rateLimits(cfg.RateLimit), log).
		WithMetrics(authMetrics).
		WithSecurityLogger(a.events)
	lockout := usecase.NewLockoutGuard(a.storage.Accounts, usecase.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}, a.events, log).WithMetrics(authMetrics)
	otp := usecase.NewOtpService(a.storage.Otps, gateway, limiter, otpHasher, a.events, usecase.OtpConfig{
		TTL:              cfg.Otp.TTL,
		MaxAttempts:      cfg.Otp.MaxAttempts,
		CodeLength:       cfg.Otp.CodeLength,
		OperationTimeout: cfg.App.OperationTimeout,
		DeliveryTimeout:  cfg.Otp.DeliveryTimeout,
	}, log).WithMetrics(authMetrics).WithIPBlocker(blocker)
	sessions := usecase.NewSessionManager(a.storage.Sessions, a.counters.Throttle, a.events, usecase.SessionConfig{
		KeyBytes:      cfg.Session.KeyBytes,
		TouchInterval: cfg.Session.TouchInterval,
	}, log)
	auth := usecase.NewAuthCoordinator(a.storage.Accounts, hasher, lockout, otp, sessions, limiter, a.events, log).
		WithMetrics(authMetrics).
		WithIPBlocker(blocker).
		WithAlerts(a.alerts)
	resets := usecase.NewPasswordResetService(a.storage.Accounts, a.storage.ResetTokens, hasher, policy, gateway,
		limiter, lockout, sessions, a.events, usecase.PasswordResetConfig{
			TokenTTL:        cfg.PasswordReset.TokenTTL,
			TokenBytes:      cfg.PasswordReset.TokenBytes,
			LinkBase:        cfg.PasswordReset.LinkBase,
			DeliveryTimeout: cfg.Otp.DeliveryTimeout,
		}, log).WithIPBlocker(blocker).WithAlerts(a.alerts)
	accountSecurity := usecase.NewAccountSecurityService(a.storage.Accounts, a.storage.Sessions, a.storage.SecurityEvents)

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		HTTPMetrics: httpMetrics,
		Services: routes.ServiceSet{
			Auth:          auth,
			Otp:           otp,
			PasswordReset: resets,
			Sessions:      sessions,
			Security:      accountSecurity,
			IPBlocks:      blocker,
		},
	}
	if a.storage.Pool != nil {
		deps.Database = a.storage.Pool
	}
	if a.counters.Redis != nil {
		deps.Cache = a.counters.Redis
	}
	a.engine = routes.Register(deps)

	a.reaper = a.inProcessReaper(cfg, log)

	return a, nil
}

// RetentionSettings maps configuration onto the reaper jobs.
func RetentionSettings(cfg *config.AppConfig) reaper.Settings {
	return reaper.Settings{
		OtpGrace:         cfg.Reaper.OtpGrace,
		EventRetention:   cfg.SecurityLogger.Retention,
		OtpSchedule:      cfg.Reaper.OtpSchedule,
		EventsSchedule:   cfg.Reaper.EventsSchedule,
		TokensSchedule:   cfg.Reaper.TokensSchedule,
		CountersSchedule: cfg.Reaper.CountersSchedule,
	}
}

// inProcessReaper schedules retention for state only this process can reach. Postgres rows are left to
// cmd/reaper; in-memory repositories and counters are swept here.
func (a *Application) inProcessReaper(cfg *config.AppConfig, log *zap.Logger) *reaper.Scheduler {
	settings := RetentionSettings(cfg)
	if a.storage.Memory == nil {
		settings.OtpSchedule, settings.EventsSchedule, settings.TokensSchedule = "", "", ""
	}
	sweepers := a.counters.Sweepers
	if len(sweepers) == 0 {
		settings.CountersSchedule = ""
	}
	if settings.OtpSchedule == "" && settings.EventsSchedule == "" && settings.TokensSchedule == "" && settings.CountersSchedule == "" {
		return nil
	}
	jobs := reaper.NewJobs(a.storage.Otps, a.storage.SecurityEvents, a.storage.ResetTokens, settings, log, sweepers...)
	return reaper.NewScheduler(jobs, log)
}

// buildPublisher mirrors security events to Kafka when brokers are configured.
func (a *Application) buildPublisher(cfg *config.AppConfig, log *zap.Logger) port.SecurityEventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}
	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.closers = append(a.closers, producer.Close)
	return kafkainfra.NewSecurityEventPublisher(producer, cfg.App, log)
}

// buildDelivery routes email through RabbitMQ and SMS through Kavenegar, falling back to
// log-only gateways outside production when those are not configured.
func (a *Application) buildDelivery(cfg *config.AppConfig, log *zap.Logger) (*delivery.Router, error) {
	router := delivery.NewRouter()
	console := delivery.NewConsoleGateway(log)

	if cfg.SMS.APIKey != "" {
		sms, err := delivery.NewKavenegarGateway(cfg.SMS, nil, log)
		if err != nil {
			return nil, fmt.Errorf("init sms gateway: %w", err)
		}
		router.Register(domain.ChannelSMS, sms)
	} else if cfg.IsDevelopment() {
		log.Warn("sms api key not configured, codes are written to the log")
		router.Register(domain.ChannelSMS, console)
	}

	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, log)
		if err == nil {
			a.closers = append(a.closers, producer.Close)
			router.Register(domain.ChannelEmail, delivery.NewEmailGateway(producer, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey))
			return router, nil
		}
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		log.Warn("rabbitmq unavailable, email is written to the log", zap.Error(err))
	}
	if cfg.IsDevelopment() {
		router.Register(domain.ChannelEmail, console)
	}
	return router, nil
}

func rateLimits(cfg config.RateLimitSettings) map[string]usecase.RateLimit {
	limits := usecase.DefaultRateLimits()
	rules := map[string]config.RateLimitRule{
		usecase.ActionLogin:         cfg.Login,
		usecase.ActionOtp:           cfg.Otp,
		usecase.ActionPasswordReset: cfg.PasswordReset,
		usecase.ActionEmailVerify:   cfg.EmailVerify,
		usecase.ActionPhoneVerify:   cfg.PhoneVerify,
	}
	for action, rule := range rules {
		if rule.Limit > 0 && rule.Window > 0 {
			limits[action] = usecase.RateLimit{Limit: rule.Limit, Window: rule.Window}
		}
	}
	return limits
}

// Handler exposes the router, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.engine
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and the security event queue.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
	)

	if a.reaper != nil {
		if err := a.reaper.Start(); err != nil {
			a.release(context.Background())
			return fmt.Errorf("start reaper: %w", err)
		}
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	}

	timeout := a.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown server: %w", err))
	}
	if a.reaper != nil {
		select {
		case <-a.reaper.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	a.release(shutdownCtx)
	return runErr
}

// release closes dependencies in reverse order of construction. The security logger drains first so
// queued events still reach the store and the broker.
func (a *Application) release(ctx context.Context) {
	// Alerts publish through the closers below, so they drain first.
	if err := a.alerts.Close(ctx); err != nil {
		a.logger.Warn("security alerts did not drain", zap.Error(err))
	}
	if err := a.events.Close(ctx); err != nil {
		a.logger.Warn("security logger did not drain", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close dependency", zap.Error(err))
		}
	}
	if err := a.counters.Close(); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
	a.storage.Close()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
