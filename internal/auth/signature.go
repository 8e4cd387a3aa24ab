package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Sign returns the hex HMAC-SHA256 of timestamp||body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignNow signs body with the current unix time and returns both headers.
func SignNow(secret []byte, body []byte) (timestamp, signature string) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	return timestamp, Sign(secret, timestamp, body)
}

// verifySignature checks the timestamp window before the signature, so a
// stale request is reported as expired even when its signature is valid.
func verifySignature(secret []byte, timestamp, signature string, body []byte, now time.Time, window time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > window {
		return ErrRequestExpired
	}
	if len(secret) == 0 {
		return ErrInvalidSignature
	}
	expected := Sign(secret, strings.TrimSpace(timestamp), body)
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
