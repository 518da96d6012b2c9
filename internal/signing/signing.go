// Package signing implements the time-windowed HMAC token the catalog
// service expects on every request: "<unix seconds>:<hex hmac>".
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Signer generates and validates HMAC based tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Token returns a token for the current time. Tokens expire, so one must
// be computed per request.
func (s *Signer) Token() string {
	return s.TokenAt(s.now())
}

// TokenAt returns the token for t.
func (s *Signer) TokenAt(t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return ts + ":" + s.Sign(ts)
}

// Validate reports whether token carries a valid signature issued within
// window of now, in either direction.
func (s *Signer) Validate(token string, now time.Time, window time.Duration) bool {
	ts, sig, ok := strings.Cut(token, ":")
	if !ok {
		return false
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(issued, 0))
	if age < 0 {
		age = -age
	}
	if age > window {
		return false
	}
	// hmac.Equal performs constant-time comparison.
	return hmac.Equal([]byte(s.Sign(ts)), []byte(sig))
}
