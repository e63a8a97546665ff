package billing

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"
)

// verifyHexHMAC checks a hex-encoded MAC against the expected value for the
// given payload. Verification is a pure function of (payload, signature,
// secret); an absent secret is the caller's ErrNotConfigured, never a bypass.
func verifyHexHMAC(payload []byte, signatureHex, secret string, hashFunc func() hash.Hash) bool {
	sig := strings.TrimSpace(signatureHex)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// computeHexHMAC returns the hex MAC for outbound request signing.
func computeHexHMAC(payload []byte, secret string, hashFunc func() hash.Hash) string {
	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
