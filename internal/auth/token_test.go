package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestSignVerify(t *testing.T) {
	iss, err := NewIssuer("s3cret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	tok, err := iss.Sign("user-42", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	owner, err := iss.Verify(tok)
	if err != nil || owner != "user-42" {
		t.Errorf("Verify = %q, %v", owner, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	iss, _ := NewIssuer("s3cret")
	other, _ := NewIssuer("different")

	foreign, _ := other.Sign("user-42", time.Hour)

	expiredIss, _ := NewIssuer("s3cret")
	expiredIss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIss.Sign("user-42", time.Hour)

	noExp := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, Claims{RegisteredClaims: jwtlib.RegisteredClaims{Subject: "user-42"}})
	noExpTok, _ := noExp.SignedString([]byte("s3cret"))

	noneTok, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":   "not.a.token",
		"empty":     "",
		"wrong key": foreign,
		"expired":   expired,
		"no expiry": noExpTok,
		"alg none":  noneTok,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSignRequiresOwner(t *testing.T) {
	iss, _ := NewIssuer("s3cret")
	if _, err := iss.Sign("", time.Hour); err == nil {
		t.Error("expected error for empty owner")
	}
	if _, err := NewIssuer(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestOwnerContext(t *testing.T) {
	if _, ok := Owner(context.Background()); ok {
		t.Error("empty context should carry no owner")
	}
	ctx := WithOwner(context.Background(), "u1")
	if owner, ok := Owner(ctx); !ok || owner != "u1" {
		t.Errorf("Owner = %q, %v", owner, ok)
	}
}
