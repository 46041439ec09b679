// Package webhook is the ingestion gateway: it authenticates provider
// webhooks and appends admissible events to the stream.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Signature verification failures. Handlers map these onto 400/401 without
// leaking which check failed beyond the class of error.
var (
	ErrSignatureMissing  = errors.New("signature or timestamp header missing")
	ErrTimestampInvalid  = errors.New("timestamp outside tolerance window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Verifier authenticates webhook payloads: hex HMAC-SHA256 over
// timestamp + "." + body, with a bounded timestamp window to blunt replay.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the timestamp window first, then the signature. The timestamp
// may trail now by at most the tolerance and lead it by at most a minute of
// clock skew.
func (v *Verifier) Verify(body []byte, signatureHex, timestamp string) error {
	if signatureHex == "" || timestamp == "" {
		return ErrSignatureMissing
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}
	now := v.now()
	sent := time.Unix(ts, 0)
	if sent.Before(now.Add(-v.tolerance)) || sent.After(now.Add(time.Minute)) {
		return ErrTimestampInvalid
	}

	expected := v.sign(body, timestamp)
	provided, err := hex.DecodeString(signatureHex)
	if err != nil || !hmac.Equal(provided, expected) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the hex signature for a payload. Used by tests and by
// outbound tooling that replays events.
func (v *Verifier) Sign(body []byte, timestamp string) string {
	return hex.EncodeToString(v.sign(body, timestamp))
}

func (v *Verifier) sign(body []byte, timestamp string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
