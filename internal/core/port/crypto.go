package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordPolicyValidator enforces password strength requirements. userInputs are penalised when guessable.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// OtpCodeHasher derives the stored form of a one-time code and compares candidates in constant time.
type OtpCodeHasher interface {
	Hash(code string) (string, error)
	Matches(code, encoded string) bool
}
