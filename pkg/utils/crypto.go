package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// GenerateRandomToken generates a random hex token from length random bytes.
func GenerateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	token, _ := GenerateRandomToken(16)
	return token
}

// GenerateConfirmationCode returns a short upper-case code for data deletion receipts.
func GenerateConfirmationCode() (string, error) {
	token, err := GenerateRandomToken(8)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(token), nil
}

// HashToken creates a SHA256 hash of a token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// HMACSHA256 signs data with secret.
func HMACSHA256(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// SecureCompareStrings compares secrets in constant time.
func SecureCompareStrings(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
