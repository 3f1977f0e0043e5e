// ABOUTME: HMAC request signing shared by outbound webhooks and the inbound event API
// ABOUTME: Signature is v0=hex(hmac_sha256(secret, "v0:" + timestamp + ":" + body))
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
)

// MaxSkew is how far a signed timestamp may drift from now
const MaxSkew = 5 * time.Minute

// Sign computes the signature header value
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + timestamp + ":"))
	_, _ = mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature validates a signed request
func VerifySignature(secret, signature, timestamp string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	at := time.Unix(ts, 0)
	if now.Sub(at) > MaxSkew || at.Sub(now) > MaxSkew {
		return ErrStaleTimestamp
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
