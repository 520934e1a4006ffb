package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/auth-core/internal/core/port"
)

const namespace = "auth"

// AuthMetrics implements port.AuthMetrics with Prometheus collectors.
type AuthMetrics struct {
	Logins        *prometheus.CounterVec
	OtpIssued     *prometheus.CounterVec
	OtpVerified   *prometheus.CounterVec
	RateLimited   *prometheus.CounterVec
	Lockouts      prometheus.Counter
	EventsDropped prometheus.Counter
}

// NewAuthMetrics registers the collectors, reusing any that are already registered under the same name.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	logins, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts partitioned by method and outcome.",
	}, "method", "outcome")
	if err != nil {
		return nil, err
	}
	issued, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "issued_total",
		Help:      "One-time codes issued partitioned by channel, purpose and outcome.",
	}, "channel", "purpose", "outcome")
	if err != nil {
		return nil, err
	}
	verified, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "verifications_total",
		Help:      "One-time code verifications partitioned by purpose and outcome.",
	}, "purpose", "outcome")
	if err != nil {
		return nil, err
	}
	limited, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests denied by the rate limiter partitioned by action.",
	}, "action")
	if err != nil {
		return nil, err
	}
	lockouts, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lockouts_total",
		Help:      "Accounts locked after reaching the failure threshold.",
	})
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security_logger",
		Name:      "dropped_events_total",
		Help:      "Security events dropped because the logger queue was full.",
	})
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Logins:        logins,
		OtpIssued:     issued,
		OtpVerified:   verified,
		RateLimited:   limited,
		Lockouts:      lockouts,
		EventsDropped: dropped,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s: %w", opts.Name, err)
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s: %w", opts.Name, err)
	}
	return counter, nil
}

func (m *AuthMetrics) ObserveLogin(method, outcome string) {
	m.Logins.WithLabelValues(method, outcome).Inc()
}

func (m *AuthMetrics) ObserveOtpIssued(channel, purpose, outcome string) {
	m.OtpIssued.WithLabelValues(channel, purpose, outcome).Inc()
}

func (m *AuthMetrics) ObserveOtpVerified(purpose, outcome string) {
	m.OtpVerified.WithLabelValues(purpose, outcome).Inc()
}

func (m *AuthMetrics) ObserveRateLimited(action string) {
	m.RateLimited.WithLabelValues(action).Inc()
}

func (m *AuthMetrics) ObserveLockout() {
	m.Lockouts.Inc()
}

func (m *AuthMetrics) ObserveSecurityEventDropped() {
	m.EventsDropped.Inc()
}

var _ port.AuthMetrics = (*AuthMetrics)(nil)
