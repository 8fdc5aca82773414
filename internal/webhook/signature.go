package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignaturePrefix is the algorithm prefix carried in the signature header.
const SignaturePrefix = "sha256="

// GenerateSecret returns a new 32-byte high-entropy signing secret, hex
// encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret returns the SHA-256 hex digest persisted in place of the raw
// secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Sign computes the HMAC-SHA256 signature of payload under secret, with the
// algorithm prefix, suitable for the X-Webhook-Signature-256 header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the expected HMAC for payload and compares it to
// the presented signature in constant time. Malformed signatures, including
// length mismatches and bad hex, return false rather than an error: this runs
// on inbound webhook receipt and must not leak timing or parse details.
func VerifySignature(payload []byte, signature, secret string) bool {
	presented, ok := strings.CutPrefix(signature, SignaturePrefix)
	if !ok {
		presented = signature
	}

	decoded, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(decoded, mac.Sum(nil))
}
