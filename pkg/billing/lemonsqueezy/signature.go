package lemonsqueezy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks the X-Signature header against an HMAC-SHA256 digest
// of the raw request body keyed by the shared secret. The comparison is
// constant time; verification failure is always a boolean outcome so callers
// cannot leak why it failed.
func VerifySignature(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}

	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return false
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	if _, err := mac.Write(rawBody); err != nil {
		return false
	}

	// hmac.Equal is constant time; a length mismatch fails without
	// short-circuiting on content.
	return hmac.Equal(expected, mac.Sum(nil))
}
