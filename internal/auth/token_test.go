package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"counsel/api/internal/rbac"
)

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("secret")
	verifier, err := NewHMACVerifier(secret, nil)
	if err != nil {
		t.Fatalf("NewHMACVerifier() error = %v", err)
	}
	issued, err := IssueToken(secret, "user-1", "Avery", rbac.RoleEditor, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	id, err := verifier.Verify(issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-1" || id.DisplayName != "Avery" || id.Role != rbac.RoleEditor {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	verifier, _ := NewHMACVerifier(secret, nil)
	issued, err := IssueToken(secret, "user-1", "Avery", rbac.RoleEditor, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := verifier.Verify(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	verifier, _ := NewHMACVerifier([]byte("secret"), nil)
	issued, _ := IssueToken([]byte("other"), "user-1", "Avery", rbac.RoleEditor, time.Hour)
	if _, err := verifier.Verify(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("secret")
	verifier, _ := NewHMACVerifier(secret, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for HS512, got %v", err)
	}
}

func TestVerifyRequiresSubjectAndExpiry(t *testing.T) {
	secret := []byte("secret")
	verifier, _ := NewHMACVerifier(secret, nil)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)
	if _, err := verifier.Verify(noSubject); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without subject, got %v", err)
	}

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(secret)
	if _, err := verifier.Verify(noExpiry); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without exp, got %v", err)
	}
}

func TestVerifyDefaultsNameAndRole(t *testing.T) {
	secret := []byte("secret")
	verifier, _ := NewHMACVerifier(secret, nil)
	issued, _ := IssueToken(secret, "user-9", "", rbac.Role("root"), time.Hour)
	id, err := verifier.Verify(issued)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.DisplayName != "user-9" || id.Role != rbac.RoleViewer {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestNewVerifierRequiresConfiguration(t *testing.T) {
	if _, err := NewHMACVerifier(nil, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewJWKSVerifier(t.Context(), "", nil); err == nil {
		t.Fatal("expected error for empty JWKS URL")
	}
}
