package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVerification covers a failed subscription challenge.
	ErrVerification = errors.New("webhook verification failed")
	// ErrSignature covers a missing, malformed, or mismatched payload signature.
	ErrSignature = errors.New("webhook signature invalid")
)

const signaturePrefix = "sha256="

// VerifyChallenge checks the subscription handshake the channel sends when a
// webhook is registered, returning the challenge to echo back.
func VerifyChallenge(mode, verifyToken, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" {
		return "", fmt.Errorf("%w: invalid mode %q", ErrVerification, mode)
	}
	if verifyToken == "" || verifyToken != expectedToken {
		return "", fmt.Errorf("%w: invalid verify token", ErrVerification)
	}
	return challenge, nil
}

// VerifySignature validates the X-Hub-Signature-256 header against the raw
// request body using HMAC-SHA256 with the app secret.
func VerifySignature(body []byte, signatureHeader, appSecret string) error {
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignature)
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return fmt.Errorf("%w: malformed signature header", ErrSignature)
	}
	expected := signatureHeader[len(signaturePrefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison.
	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", ErrSignature)
	}
	return nil
}
