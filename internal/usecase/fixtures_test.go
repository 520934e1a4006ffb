package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/infra/security"
	"github.com/arklim/auth-core/internal/repository/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	contact string
	channel domain.Channel
	message domain.Message
}

type fakeDelivery struct {
	mu    sync.Mutex
	sent  []sentMessage
	fails map[domain.Channel]error
}

func (d *fakeDelivery) Send(_ context.Context, contact string, channel domain.Channel, message domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fails[channel]; err != nil {
		return err
	}
	d.sent = append(d.sent, sentMessage{contact: contact, channel: channel, message: message})
	return nil
}

func (d *fakeDelivery) failChannel(channel domain.Channel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails == nil {
		d.fails = make(map[domain.Channel]error)
	}
	d.fails[channel] = err
}

func (d *fakeDelivery) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

// fakePasswordHasher keeps tests fast; the argon2 implementation has its own tests.
type fakePasswordHasher struct{}

func (fakePasswordHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakePasswordHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "hashed:") {
		return false, errors.New("unknown hash format")
	}
	return encoded == "hashed:"+password, nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	logins      map[string]int
	otpIssued   map[string]int
	otpVerified map[string]int
	rateLimited map[string]int
	lockouts    int
	dropped     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		logins:      make(map[string]int),
		otpIssued:   make(map[string]int),
		otpVerified: make(map[string]int),
		rateLimited: make(map[string]int),
	}
}

func (m *recordingMetrics) ObserveLogin(method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[method+"/"+outcome]++
}

func (m *recordingMetrics) ObserveOtpIssued(channel, purpose, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otpIssued[channel+"/"+purpose+"/"+outcome]++
}

func (m *recordingMetrics) ObserveOtpVerified(purpose, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otpVerified[purpose+"/"+outcome]++
}

func (m *recordingMetrics) ObserveRateLimited(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited[action]++
}

func (m *recordingMetrics) ObserveLockout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockouts++
}

func (m *recordingMetrics) ObserveSecurityEventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

const testPepper = "test-pepper"

type testEnv struct {
	clock    *testClock
	repos    *memory.Repositories
	counters *memory.CounterStore
	throttle *memory.ActivityThrottle
	delivery *fakeDelivery
	metrics  *recordingMetrics
	events   *SecurityLogger
	limiter  *RateLimiter
	lockout  *LockoutGuard
	otp      *OtpService
	sessions *SessionManager
	auth     *AuthCoordinator
	resets   *PasswordResetService
	security *AccountSecurityService

	blocklist *memory.IPBlocklist
	blocker   *IPBlocker
	// alertMail receives security alerts so they never mix with codes and links.
	alertMail *fakeDelivery
	alerts    *SecurityAlerter

	codeMu sync.Mutex
	code   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    newTestClock(),
		repos:    memory.NewRepositories(),
		delivery: &fakeDelivery{},
		metrics:  newRecordingMetrics(),
		code:     "012345",
	}
	env.counters = memory.NewCounterStore().WithClock(env.clock.Now)
	env.throttle = memory.NewActivityThrottle().WithClock(env.clock.Now)

	// Zero buffer writes events inline so assertions see them immediately.
	env.events = NewSecurityLogger(env.repos.SecurityEvents, nil, 0, nil).WithMetrics(env.metrics)
	env.events.WithClock(env.clock.Now)

	env.limiter = NewRateLimiter(env.counters, nil, nil).WithMetrics(env.metrics).WithSecurityLogger(env.events)

	env.lockout = NewLockoutGuard(env.repos.Accounts, DefaultLockoutPolicy(), env.events, nil).WithMetrics(env.metrics)
	env.lockout.WithClock(env.clock.Now)

	otpHasher, err := security.NewOtpHasher(testPepper)
	if err != nil {
		t.Fatalf("NewOtpHasher returned error: %v", err)
	}
	env.otp = NewOtpService(env.repos.Otps, env.delivery, env.limiter, otpHasher, env.events, DefaultOtpConfig(), nil).WithMetrics(env.metrics)
	env.otp.WithClock(env.clock.Now)
	env.otp.WithCodeGenerator(func(int) (string, error) {
		env.codeMu.Lock()
		defer env.codeMu.Unlock()
		return env.code, nil
	})

	env.blocklist = memory.NewIPBlocklist().WithClock(env.clock.Now)
	env.blocker = NewIPBlocker(env.blocklist, env.events, nil)
	env.otp.WithIPBlocker(env.blocker)

	env.alertMail = &fakeDelivery{}
	env.alerts = NewSecurityAlerter(env.alertMail, AlertConfig{Timeout: time.Second, MaxInFlight: 8}, nil).WithClock(env.clock.Now)
	t.Cleanup(func() { _ = env.alerts.Close(context.Background()) })

	env.sessions = NewSessionManager(env.repos.Sessions, env.throttle, env.events, DefaultSessionConfig(), nil)
	env.sessions.WithClock(env.clock.Now)

	env.auth = NewAuthCoordinator(env.repos.Accounts, fakePasswordHasher{}, env.lockout, env.otp, env.sessions, env.limiter, env.events, nil).WithMetrics(env.metrics)
	env.auth.WithClock(env.clock.Now)
	env.auth.WithIPBlocker(env.blocker).WithAlerts(env.alerts)

	env.resets = NewPasswordResetService(
		env.repos.Accounts,
		env.repos.ResetTokens,
		fakePasswordHasher{},
		security.NewPasswordPolicy(security.DefaultPasswordPolicyConfig()),
		env.delivery,
		env.limiter,
		env.lockout,
		env.sessions,
		env.events,
		DefaultPasswordResetConfig(),
		nil,
	)
	env.resets.WithClock(env.clock.Now)
	env.resets.WithIPBlocker(env.blocker).WithAlerts(env.alerts)

	env.security = NewAccountSecurityService(env.repos.Accounts, env.repos.Sessions, env.repos.SecurityEvents)
	env.security.WithClock(env.clock.Now)

	return env
}

func (e *testEnv) setCode(code string) {
	e.codeMu.Lock()
	e.code = code
	e.codeMu.Unlock()
}

func (e *testEnv) addAccount(t *testing.T, id, email, phone, password string) domain.Account {
	t.Helper()
	account := domain.Account{
		ID:           id,
		PasswordHash: "hashed:" + password,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	if email != "" {
		account.Email = &email
	}
	if phone != "" {
		account.Phone = &phone
	}
	if err := e.repos.Accounts.Add(account); err != nil {
		t.Fatalf("add account: %v", err)
	}
	return account
}

// sentAlerts waits for pending alert deliveries and returns them.
func (e *testEnv) sentAlerts(t *testing.T) []sentMessage {
	t.Helper()
	if err := e.alerts.Close(context.Background()); err != nil {
		t.Fatalf("close alerts: %v", err)
	}
	return e.alertMail.messages()
}

func (e *testEnv) eventsOfType(eventType domain.EventType) []domain.SecurityEvent {
	var out []domain.SecurityEvent
	for _, event := range e.repos.SecurityEvents.Events() {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}
