package signing

import (
	"strings"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Unix(1700000000, 0)
	token := s.TokenAt(now)
	if !strings.HasPrefix(token, "1700000000:") {
		t.Fatalf("unexpected token %q", token)
	}
	if len(token) != len("1700000000:")+64 {
		t.Fatalf("expected a hex sha256 signature, got %q", token)
	}
	if !s.Validate(token, now.Add(30*time.Second), time.Minute) {
		t.Fatalf("expected token to validate inside the window")
	}
	if s.Validate(token, now.Add(2*time.Minute), time.Minute) {
		t.Fatalf("expected token to expire outside the window")
	}
	if NewSigner([]byte("other")).Validate(token, now, time.Minute) {
		t.Fatalf("expected validation to fail for a different secret")
	}
	if s.Validate("1700000001:"+strings.SplitN(token, ":", 2)[1], now, time.Minute) {
		t.Fatalf("expected validation to fail for a tampered timestamp")
	}
	for _, bad := range []string{"", "nocolon", "abc:def"} {
		if s.Validate(bad, now, time.Minute) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTokenUsesClock(t *testing.T) {
	s := NewSigner([]byte("k"))
	s.now = func() time.Time { return time.Unix(42, 0) }
	if got, want := s.Token(), s.TokenAt(time.Unix(42, 0)); got != want {
		t.Fatalf("Token() = %q, want %q", got, want)
	}
}
