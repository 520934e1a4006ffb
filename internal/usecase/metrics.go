package usecase

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/auth-core/internal/core/port"
)

const tracerName = "github.com/arklim/auth-core/internal/usecase"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

type nopMetrics struct{}

func (nopMetrics) ObserveLogin(string, string)             {}
func (nopMetrics) ObserveOtpIssued(string, string, string) {}
func (nopMetrics) ObserveOtpVerified(string, string)       {}
func (nopMetrics) ObserveRateLimited(string)               {}
func (nopMetrics) ObserveLockout()                         {}
func (nopMetrics) ObserveSecurityEventDropped()            {}

var _ port.AuthMetrics = nopMetrics{}

func metricsOrNop(metrics port.AuthMetrics) port.AuthMetrics {
	if metrics == nil {
		return nopMetrics{}
	}
	return metrics
}
