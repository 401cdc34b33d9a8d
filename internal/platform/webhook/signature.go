package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret. The
// delivery request carries it as "sha256=<hex>" in the X-Webhook-Signature
// header so consumers can authenticate the sender.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC-SHA256 of payload under
// secret. The comparison is constant time.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// newSecret returns 32 cryptographically random bytes, hex encoded.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
