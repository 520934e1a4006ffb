package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/arklim/auth-core/internal/core/port"
)

const otpSaltLength = 16

// GenerateOtpCode returns a zero-padded decimal code drawn uniformly from [0, 10^digits).
func GenerateOtpCode(digits int) (string, error) {
	if digits <= 0 || digits > 12 {
		return "", fmt.Errorf("otp digits must be between 1 and 12, got %d", digits)
	}

	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// OtpHasher implements port.OtpCodeHasher. Each code gets its own random salt and the digest is keyed
// with a server-side pepper, so a leaked table cannot be brute forced offline without the pepper.
type OtpHasher struct {
	pepper []byte
}

// NewOtpHasher builds a hasher keyed with the supplied pepper.
func NewOtpHasher(pepper string) (*OtpHasher, error) {
	if strings.TrimSpace(pepper) == "" {
		return nil, errors.New("otp pepper must not be empty")
	}
	return &OtpHasher{pepper: []byte(pepper)}, nil
}

// Hash returns "<salt>:<digest>" in hex.
func (h *OtpHasher) Hash(code string) (string, error) {
	salt := make([]byte, otpSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate otp salt: %w", err)
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(h.digest(salt, code)), nil
}

// Matches compares the candidate against the stored form in constant time.
func (h *OtpHasher) Matches(code, encoded string) bool {
	saltHex, digestHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}
	return hmac.Equal(h.digest(salt, code), expected)
}

func (h *OtpHasher) digest(salt []byte, code string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write(salt)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

var _ port.OtpCodeHasher = (*OtpHasher)(nil)
