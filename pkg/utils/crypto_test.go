package utils

import (
	"encoding/hex"
	"testing"
)

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// TestGenerateRandomToken tests random token generation.
func TestGenerateRandomToken(t *testing.T) {
	token1, err := GenerateRandomToken(32)
	if err != nil {
		t.Fatalf("GenerateRandomToken() unexpected error: %v", err)
	}
	token2, err := GenerateRandomToken(32)
	if err != nil {
		t.Fatalf("GenerateRandomToken() unexpected error: %v", err)
	}

	if token1 == token2 {
		t.Errorf("GenerateRandomToken() should generate unique tokens, got same: %s", token1)
	}
	if len(token1) != 64 {
		t.Errorf("GenerateRandomToken() length = %d; want 64", len(token1))
	}
	if !isHex(token1) {
		t.Errorf("GenerateRandomToken() contains non-hex characters: %s", token1)
	}
}

// TestGenerateRequestID tests request ID generation.
func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Errorf("GenerateRequestID() should generate unique IDs, got same: %s", id1)
	}
	if len(id1) != 32 {
		t.Errorf("GenerateRequestID() length = %d; want 32", len(id1))
	}
}

// TestGenerateConfirmationCode tests deletion confirmation codes.
func TestGenerateConfirmationCode(t *testing.T) {
	code, err := GenerateConfirmationCode()
	if err != nil {
		t.Fatalf("GenerateConfirmationCode() unexpected error: %v", err)
	}
	if len(code) != 16 {
		t.Errorf("GenerateConfirmationCode() length = %d; want 16", len(code))
	}
	if !isHex(code) {
		t.Errorf("GenerateConfirmationCode() contains non-hex characters: %s", code)
	}
	for _, r := range code {
		if r >= 'a' && r <= 'f' {
			t.Errorf("GenerateConfirmationCode() should be upper case, got %s", code)
			break
		}
	}
}

// TestHashToken tests token hashing.
func TestHashToken(t *testing.T) {
	hash1 := HashToken("queue-token")
	hash2 := HashToken("queue-token")

	if hash1 != hash2 {
		t.Errorf("HashToken() should be deterministic, got %s vs %s", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("HashToken() length = %d; want 64 (SHA256)", len(hash1))
	}
	if hash1 == HashToken("other") {
		t.Errorf("HashToken() should produce different hashes for different inputs")
	}
}

// TestHMACSHA256 tests the HMAC helper against a known vector (RFC 4231 case 2).
func TestHMACSHA256(t *testing.T) {
	got := hex.EncodeToString(HMACSHA256([]byte("Jefe"), []byte("what do ya want for nothing?")))
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Errorf("HMACSHA256() = %s; want %s", got, want)
	}
}

// TestSecureCompareStrings tests constant-time comparison.
func TestSecureCompareStrings(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{"equal", "secret", "secret", true},
		{"different", "secret", "Secret", false},
		{"different length", "secret", "secrets", false},
		{"both empty", "", "", true},
		{"one empty", "secret", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecureCompareStrings(tt.a, tt.b); got != tt.expected {
				t.Errorf("SecureCompareStrings(%q, %q) = %v; want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
