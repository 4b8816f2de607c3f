// Package verify authenticates inbound calls from the lead-ads platform:
// the subscription handshake, signed data-deletion requests and payload
// signatures on deliveries. Every check fails closed.
package verify

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "github.com/pandeptwidyaop/leadflow/pkg/errors"
	"github.com/pandeptwidyaop/leadflow/pkg/utils"
)

const (
	// ModeSubscribe is the only handshake mode the platform sends.
	ModeSubscribe = "subscribe"

	algorithmHMACSHA256 = "HMAC-SHA256"
	signaturePrefix     = "sha256="
)

// SignedRequest is the decoded payload of a signed_request token.
type SignedRequest struct {
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
	UserID    string `json:"user_id"`
}

// VerifyChallenge returns the challenge verbatim when mode is "subscribe" and
// token matches the configured secret.
func VerifyChallenge(mode, token, challenge, secret string) (string, error) {
	if mode != ModeSubscribe {
		return "", fmt.Errorf("%w: unexpected mode %q", pkgerrors.ErrVerificationFailed, mode)
	}
	if secret == "" || !utils.SecureCompareStrings(token, secret) {
		return "", fmt.Errorf("%w: verify token mismatch", pkgerrors.ErrVerificationFailed)
	}
	return challenge, nil
}

// ParseSignedRequest checks a "<signature>.<payload>" token against appSecret
// and returns the decoded payload.
func ParseSignedRequest(signedRequest, appSecret string) (SignedRequest, error) {
	if appSecret == "" {
		return SignedRequest{}, fmt.Errorf("%w: app secret not configured", pkgerrors.ErrVerificationFailed)
	}

	parts := strings.Split(strings.TrimSpace(signedRequest), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SignedRequest{}, fmt.Errorf("%w: malformed signed request", pkgerrors.ErrVerificationFailed)
	}

	signature, err := decodeBase64URL(parts[0])
	if err != nil {
		return SignedRequest{}, fmt.Errorf("%w: signature encoding", pkgerrors.ErrVerificationFailed)
	}
	payload, err := decodeBase64URL(parts[1])
	if err != nil {
		return SignedRequest{}, fmt.Errorf("%w: payload encoding", pkgerrors.ErrVerificationFailed)
	}

	// The signature covers the encoded payload segment, not the decoded JSON.
	expected := utils.HMACSHA256([]byte(appSecret), []byte(parts[1]))
	if !hmac.Equal(signature, expected) {
		return SignedRequest{}, fmt.Errorf("%w: signature mismatch", pkgerrors.ErrVerificationFailed)
	}

	var req SignedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return SignedRequest{}, fmt.Errorf("%w: payload json", pkgerrors.ErrVerificationFailed)
	}
	if !strings.EqualFold(req.Algorithm, algorithmHMACSHA256) {
		return SignedRequest{}, fmt.Errorf("%w: unsupported algorithm %q", pkgerrors.ErrVerificationFailed, req.Algorithm)
	}

	return req, nil
}

// VerifyPayloadSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the raw request body.
func VerifyPayloadSignature(body []byte, header, appSecret string) error {
	if appSecret == "" {
		return fmt.Errorf("%w: app secret not configured", pkgerrors.ErrVerificationFailed)
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("%w: missing signature", pkgerrors.ErrVerificationFailed)
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: signature encoding", pkgerrors.ErrVerificationFailed)
	}
	if !hmac.Equal(provided, utils.HMACSHA256([]byte(appSecret), body)) {
		return fmt.Errorf("%w: signature mismatch", pkgerrors.ErrVerificationFailed)
	}
	return nil
}

// SignRequest builds a signed_request token the way the platform does.
func SignRequest(req SignedRequest, appSecret string) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	signature := utils.HMACSHA256([]byte(appSecret), []byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(signature) + "." + encodedPayload, nil
}

// SignPayload returns the X-Hub-Signature-256 header value for body.
func SignPayload(body []byte, appSecret string) string {
	return signaturePrefix + hex.EncodeToString(utils.HMACSHA256([]byte(appSecret), body))
}

// decodeBase64URL accepts base64url with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
