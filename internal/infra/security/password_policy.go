package security

import (
	"strings"

	"github.com/arklim/auth-core/internal/core/port"
)

const (
	defaultMinPasswordLength = 8
	defaultMaxPasswordLength = 128
	defaultMinZxcvbnScore    = 2
)

// PasswordPolicyConfig tunes the password policy.
type PasswordPolicyConfig struct {
	MinLength   int
	MaxLength   int
	MinStrength int
}

// DefaultPasswordPolicyConfig returns the built-in thresholds.
func DefaultPasswordPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{
		MinLength:   defaultMinPasswordLength,
		MaxLength:   defaultMaxPasswordLength,
		MinStrength: defaultMinZxcvbnScore,
	}
}

// PasswordPolicy implements port.PasswordPolicyValidator. Contextual inputs such as the account email are
// fed to zxcvbn so passwords derived from them score low.
type PasswordPolicy struct {
	cfg PasswordPolicyConfig
}

// NewPasswordPolicy builds a policy, filling zero values with defaults.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	defaults := DefaultPasswordPolicyConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaults.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaults.MaxLength
	}
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = defaults.MinStrength
	}
	return &PasswordPolicy{cfg: cfg}
}

// Validate returns a *PasswordValidationError describing the first violated rule.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if trimmed := strings.TrimSpace(in); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}

	return NewPasswordValidator(
		MinLengthRule(p.cfg.MinLength),
		MaxLengthRule(p.cfg.MaxLength),
		RequirePasswordStrengthRule(p.cfg.MinStrength, inputs...),
	).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
