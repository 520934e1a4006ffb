package port

// AuthMetrics records authentication outcomes.
type AuthMetrics interface {
	ObserveLogin(method, outcome string)
	ObserveOtpIssued(channel, purpose, outcome string)
	ObserveOtpVerified(purpose, outcome string)
	ObserveRateLimited(action string)
	ObserveLockout()
	ObserveSecurityEventDropped()
}
