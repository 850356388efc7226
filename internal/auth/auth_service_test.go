package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	svc, err := NewAuthService(testSecret, time.Hour, 4)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateToken(7)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("expected user 7, got %d", claims.UserID)
	}
}

func TestValidateTokenReasons(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.ValidateToken(""); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if _, err := svc.ValidateToken("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	other, err := NewAuthService("ffffffffffffffffffffffffffffffff", time.Hour, 4)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	foreign, err := other.GenerateToken(1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.ValidateToken(foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := svc.GenerateToken(1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	svc.now = time.Now
	if _, err := svc.ValidateToken(stale); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	svc := newTestService(t)

	claims := TokenClaims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	svc := newTestService(t)

	hash, err := svc.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "secret123" {
		t.Fatalf("hash must not equal plaintext")
	}
	if !svc.CheckPasswordHash("secret123", hash) {
		t.Fatalf("expected password to match")
	}
	if svc.CheckPasswordHash("wrong", hash) {
		t.Fatalf("expected mismatch")
	}
}
