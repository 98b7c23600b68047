package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const DefaultSignatureHeader = "X-Webhook-Signature"

// Sign returns the hex-encoded HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature of payload and compares it in constant time.
func Verify(payload []byte, signature, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyAny reports whether signature matches payload under any non-empty secret.
func VerifyAny(payload []byte, signature string, secrets ...string) bool {
	ok := false
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		// no early exit so timing does not reveal which key matched
		if Verify(payload, signature, secret) {
			ok = true
		}
	}
	return ok
}
