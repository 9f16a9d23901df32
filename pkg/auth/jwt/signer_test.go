package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Secret: []byte("s")}); err == nil {
		t.Error("expected error for missing key id")
	}
	if _, err := New(Config{KeyID: "k"}); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestTokenVerifies(t *testing.T) {
	s, err := New(Config{KeyID: "key-1", Secret: []byte("top-secret"), Audience: "gateway", TTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	parsed, err := jwtlib.Parse(tok, func(tk *jwtlib.Token) (interface{}, error) {
		if tk.Header["kid"] != "key-1" {
			t.Errorf("kid = %v, want key-1", tk.Header["kid"])
		}
		return []byte("top-secret"), nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer("key-1"),
		jwtlib.WithAudience("gateway"),
	)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token not valid")
	}
}

func TestTokenCachedUntilRefresh(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(Config{KeyID: "k", Secret: []byte("s"), TTL: 10 * time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.nowFunc = func() time.Time { return now }

	first, _ := s.Token()

	now = now.Add(7 * time.Minute)
	second, _ := s.Token()
	if first != second {
		t.Error("token re-minted before 80% of TTL elapsed")
	}

	now = now.Add(2 * time.Minute)
	third, _ := s.Token()
	if third == first {
		t.Error("token not re-minted after 80% of TTL elapsed")
	}
}
