package routes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/infra/delivery"
	"github.com/arklim/auth-core/internal/infra/security"
	"github.com/arklim/auth-core/internal/repository/memory"
	"github.com/arklim/auth-core/internal/transport/http/handlers"
	"github.com/arklim/auth-core/internal/transport/http/middleware"
	httproutes "github.com/arklim/auth-core/internal/transport/http/routes"
	"github.com/arklim/auth-core/internal/usecase"
)

const (
	testEmail    = "user@example.com"
	testPhone    = "+989123456789"
	testPassword = "correct horse battery"
	adminToken   = "admin-secret"
)

type stack struct {
	router *gin.Engine
	repos  *memory.Repositories
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	repos := memory.NewRepositories()
	counters := memory.NewCounterStore()
	throttle := memory.NewActivityThrottle()

	hasher, err := security.NewPasswordHasher(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	otpHasher, err := security.NewOtpHasher("routes-test-pepper")
	if err != nil {
		t.Fatalf("NewOtpHasher: %v", err)
	}

	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	email, phone := testEmail, testPhone
	if err := repos.Accounts.Add(domain.Account{ID: "acc-1", Email: &email, Phone: &phone, PasswordHash: hash}); err != nil {
		t.Fatalf("add account: %v", err)
	}

	console := delivery.NewConsoleGateway(logger)
	router := delivery.NewRouter().Register(domain.ChannelSMS, console).Register(domain.ChannelEmail, console)

	events := usecase.NewSecurityLogger(repos.SecurityEvents, nil, 0, logger)
	limiter := usecase.NewRateLimiter(counters, nil, logger).WithSecurityLogger(events)
	lockout := usecase.NewLockoutGuard(repos.Accounts, usecase.DefaultLockoutPolicy(), events, logger)
	otp := usecase.NewOtpService(repos.Otps, router, limiter, otpHasher, events, usecase.DefaultOtpConfig(), logger)
	otp.WithCodeGenerator(func(int) (string, error) { return "424242", nil })
	sessions := usecase.NewSessionManager(repos.Sessions, throttle, events, usecase.DefaultSessionConfig(), logger)
	auth := usecase.NewAuthCoordinator(repos.Accounts, hasher, lockout, otp, sessions, limiter, events, logger)
	resets := usecase.NewPasswordResetService(repos.Accounts, repos.ResetTokens, hasher,
		security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig()), router, limiter, lockout, sessions, events,
		usecase.DefaultPasswordResetConfig(), logger)
	accountSecurity := usecase.NewAccountSecurityService(repos.Accounts, repos.Sessions, repos.SecurityEvents)
	blocker := usecase.NewIPBlocker(memory.NewIPBlocklist(), events, logger)
	auth.WithIPBlocker(blocker)
	otp.WithIPBlocker(blocker)
	resets.WithIPBlocker(blocker)

	registry := prometheus.NewRegistry()
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("NewHTTPMetrics: %v", err)
	}

	engine := httproutes.Register(httproutes.Dependencies{
		Config:         &config.AppConfig{App: config.AppSettings{Env: "test", AdminToken: adminToken}},
		Logger:         logger,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Services: httproutes.ServiceSet{
			Auth:          auth,
			Otp:           otp,
			PasswordReset: resets,
			Sessions:      sessions,
			Security:      accountSecurity,
			IPBlocks:      blocker,
		},
	})
	return &stack{router: engine, repos: repos}
}

func (s *stack) do(method, path, sessionKey string, body any) *httptest.ResponseRecorder {
	return s.doWithHeaders(method, path, sessionKey, nil, body)
}

func (s *stack) doWithHeaders(method, path, sessionKey string, headers map[string]string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	if sessionKey != "" {
		req.Header.Set(middleware.SessionKeyHeader, sessionKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *stack) login(t *testing.T) handlers.LoginResponse {
	t.Helper()
	rr := s.do(http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{Identifier: testEmail, Password: testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp handlers.LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestPasswordLoginThenManageSessions(t *testing.T) {
	s := newStack(t)

	first := s.login(t)
	second := s.login(t)
	if first.SessionKey == "" || first.SessionKey == second.SessionKey {
		t.Fatalf("each login must mint a distinct session key")
	}

	rr := s.do(http.MethodGet, "/v1/sessions", first.SessionKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var list handlers.SessionListResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}

	if rr := s.do(http.MethodDelete, "/v1/sessions/"+second.Session.ID, first.SessionKey, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(http.MethodGet, "/v1/sessions", second.SessionKey, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session must be rejected, got %d", rr.Code)
	}
	if rr := s.do(http.MethodDelete, "/v1/sessions/"+second.Session.ID, first.SessionKey, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second revoke must be not found, got %d", rr.Code)
	}

	rr = s.do(http.MethodGet, "/v1/account/security", first.SessionKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", rr.Code)
	}
	var summary handlers.SecuritySummaryResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &summary)
	if summary.ActiveSessions != 1 || summary.EventsByType[string(domain.EventLoginSuccess)] != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestLockoutSurfacesRetryAfter(t *testing.T) {
	s := newStack(t)

	for i := 0; i < 3; i++ {
		rr := s.do(http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{Identifier: testEmail, Password: "wrong password"})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	rr := s.do(http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{Identifier: testEmail, Password: testPassword})
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423 while locked, got %d: %s", rr.Code, rr.Body.String())
	}
	seconds, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || seconds <= 0 || seconds > 1800 {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
}

func TestOtpIssueAndLogin(t *testing.T) {
	s := newStack(t)

	rr := s.do(http.MethodPost, "/v1/otp", "", handlers.IssueOtpRequest{Contact: testPhone, Channel: "sms", Purpose: "login"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("issue: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "424242") {
		t.Fatalf("the code must never be returned to the caller")
	}

	rr = s.do(http.MethodPost, "/v1/auth/login/otp", "", handlers.OtpLoginRequest{Contact: testPhone, Code: "000000"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong code: expected 401, got %d", rr.Code)
	}

	rr = s.do(http.MethodPost, "/v1/auth/login/otp", "", handlers.OtpLoginRequest{Contact: testPhone, Code: "424242"})
	if rr.Code != http.StatusOK {
		t.Fatalf("otp login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(http.MethodPost, "/v1/auth/login/otp", "", handlers.OtpLoginRequest{Contact: testPhone, Code: "424242"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("replayed code: expected 404, got %d", rr.Code)
	}
}

func TestOtpIssueRateLimited(t *testing.T) {
	s := newStack(t)

	limit := usecase.DefaultRateLimits()[usecase.ActionOtp].Limit
	for i := 0; i < limit; i++ {
		if rr := s.do(http.MethodPost, "/v1/otp", "", handlers.IssueOtpRequest{Contact: testPhone, Channel: "sms", Purpose: "login"}); rr.Code != http.StatusAccepted {
			t.Fatalf("issue %d: expected 202, got %d", i+1, rr.Code)
		}
	}

	rr := s.do(http.MethodPost, "/v1/otp", "", handlers.IssueOtpRequest{Contact: testPhone, Channel: "sms", Purpose: "login"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("rate limited response must carry Retry-After")
	}
}

func TestPasswordResetUnknownIdentifierIsAccepted(t *testing.T) {
	s := newStack(t)

	rr := s.do(http.MethodPost, "/v1/password-reset", "", handlers.PasswordResetRequest{Identifier: "nobody@example.com"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	rr = s.do(http.MethodPost, "/v1/password-reset/confirm", "", handlers.PasswordResetConfirmRequest{Token: "bogus", NewPassword: "violet-harbor-quantum-42"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown token, got %d", rr.Code)
	}
}

func TestMetricsEndpointExposesHTTPCollectors(t *testing.T) {
	s := newStack(t)
	s.do(http.MethodGet, "/healthz", "", nil)

	rr := s.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "auth_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func TestAdminBlockTurnsAddressAway(t *testing.T) {
	s := newStack(t)
	block := handlers.BlockIPRequest{IPAddress: "203.0.113.7", DurationMinutes: 15, Reason: "credential stuffing"}

	rr := s.do(http.MethodPost, "/v1/admin/ip-blocks", "", block)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admin endpoint without token: expected 403, got %d", rr.Code)
	}

	rr = s.doWithHeaders(http.MethodPost, "/v1/admin/ip-blocks", "", map[string]string{middleware.AdminTokenHeader: adminToken}, block)
	if rr.Code != http.StatusCreated {
		t.Fatalf("block: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp handlers.BlockIPResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.DurationMinutes != 15 {
		t.Fatalf("unexpected block response %s (%v)", rr.Body.String(), err)
	}

	rr = s.do(http.MethodPost, "/v1/auth/login", "", handlers.LoginRequest{Identifier: testEmail, Password: testPassword})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("login from blocked address: expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	seconds, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || seconds <= 0 || seconds > 15*60 {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}

	rr = s.do(http.MethodPost, "/v1/otp", "", handlers.IssueOtpRequest{Contact: testPhone, Channel: "sms", Purpose: "login"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("otp from blocked address: expected 403, got %d", rr.Code)
	}

	rr = s.doWithHeaders(http.MethodDelete, "/v1/admin/ip-blocks/203.0.113.7", "", map[string]string{"Authorization": "Bearer " + adminToken}, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unblock: expected 204, got %d", rr.Code)
	}
	s.login(t)

	var blocked, attempts int
	for _, event := range s.repos.SecurityEvents.Events() {
		switch event.EventType {
		case domain.EventIPBlocked:
			blocked++
		case domain.EventBlockedIPAttempt:
			attempts++
		}
	}
	if blocked != 1 || attempts != 2 {
		t.Fatalf("expected 1 ip_blocked and 2 blocked_ip_attempt events, got %d and %d", blocked, attempts)
	}
}

func TestAdminBlockRejectsMalformedAddress(t *testing.T) {
	s := newStack(t)

	rr := s.doWithHeaders(http.MethodPost, "/v1/admin/ip-blocks", "", map[string]string{middleware.AdminTokenHeader: adminToken},
		handlers.BlockIPRequest{IPAddress: "not-an-ip"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed ip, got %d", rr.Code)
	}
}
