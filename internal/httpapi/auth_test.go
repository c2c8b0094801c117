package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dukapos/internal/domain"
)

func TestAuthManagerRoundTrip(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)

	resp, err := auth.Issue(domain.Actor{UserID: "u-1", Email: "owner@duka.local", Roles: []string{domain.RoleStoreOwner}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.ExpiresAt == "" {
		t.Fatalf("expected expires_at")
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.UserID != "u-1" || actor.Email != "owner@duka.local" || !actor.HasRole(domain.RoleStoreOwner) {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthManagerRejectsExpiredToken(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Minute)
	issuedAt := time.Now().Add(-2 * time.Hour)
	auth.now = func() time.Time { return issuedAt }

	resp, err := auth.Issue(domain.Actor{UserID: "u-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	auth.now = time.Now
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestAuthManagerRejectsForeignSignature(t *testing.T) {
	other := NewAuthManager("another-secret-key-with-32-characters!", time.Hour)
	resp, err := other.Issue(domain.Actor{UserID: "u-1", Roles: []string{domain.RoleSuperAdmin}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := NewAuthManager(testSecret, time.Hour).ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestAuthManagerRejectsNoneAlgorithm(t *testing.T) {
	claims := jwtlib.MapClaims{"sub": "u-1", "iss": tokenIssuer, "roles": []string{domain.RoleSuperAdmin}}
	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := NewAuthManager(testSecret, time.Hour).ParseToken(unsigned); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}
