package security

import (
	"strings"
	"testing"
)

func TestGenerateOtpCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateOtpCode(6)
		if err != nil {
			t.Fatalf("GenerateOtpCode returned error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("unexpected character in %q", code)
			}
		}
	}

	if _, err := GenerateOtpCode(0); err == nil {
		t.Fatalf("expected error for zero digits")
	}
}

func TestGenerateOtpCodeCoversLeadingZeros(t *testing.T) {
	seen := false
	for i := 0; i < 2000 && !seen; i++ {
		code, _ := GenerateOtpCode(2)
		seen = strings.HasPrefix(code, "0")
	}
	if !seen {
		t.Fatalf("expected zero padded codes to appear")
	}
}

func TestOtpHasherMatches(t *testing.T) {
	hasher, err := NewOtpHasher("pepper")
	if err != nil {
		t.Fatalf("NewOtpHasher returned error: %v", err)
	}

	encoded, err := hasher.Hash("123456")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if strings.Contains(encoded, "123456") {
		t.Fatalf("stored form must not contain the code")
	}
	if !hasher.Matches("123456", encoded) {
		t.Fatalf("expected code to match")
	}
	if hasher.Matches("654321", encoded) {
		t.Fatalf("expected wrong code to fail")
	}

	other, _ := NewOtpHasher("another pepper")
	if other.Matches("123456", encoded) {
		t.Fatalf("expected a different pepper to fail")
	}
	if hasher.Matches("123456", "not-hex") {
		t.Fatalf("expected malformed encoding to fail")
	}
}

func TestNewOtpHasherRequiresPepper(t *testing.T) {
	if _, err := NewOtpHasher("  "); err == nil {
		t.Fatalf("expected blank pepper to be rejected")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if len(token) != 43 {
		t.Fatalf("expected 43 base64url chars, got %d", len(token))
	}
	if HashToken(token) != HashToken(token) || HashToken(token) == HashToken(token+"x") {
		t.Fatalf("HashToken must be deterministic and input sensitive")
	}
}
