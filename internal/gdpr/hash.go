// Package gdpr owns the identity record lifecycle: soft deletion with a grace
// period, restoration, irreversible anonymization, investigation holds, and
// returning-user correlation. All lifecycle writes go through the Engine.
package gdpr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher derives correlation hashes from stable identifiers. The digest is
// deterministic for a given (email, secondary id) pair and salt, and survives
// anonymization so a resurfacing identity can be detected without keeping any
// readable PII.
type Hasher struct {
	salt []byte
}

func NewHasher(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// Correlation computes the 64-hex-char correlation digest. Email casing is
// normalized so provider-side case drift does not break the correlation.
func (h *Hasher) Correlation(email, secondaryID string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(strings.ToLower(email)))
	mac.Write([]byte("|"))
	mac.Write([]byte(secondaryID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Placeholder irreversibly replaces a PII field value. Empty stays empty so
// anonymization never invents data.
func Placeholder(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return "anon:" + hex.EncodeToString(sum[:8])
}
