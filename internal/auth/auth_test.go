package auth

import "testing"

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Error("expected correct password to verify")
	}
	if CheckPassword("hunter3", hash) {
		t.Error("expected wrong password to fail")
	}
}

func TestTokenIssuer(t *testing.T) {
	issuer, err := NewTokenIssuer()
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !issuer.Verify(token) {
		t.Error("expected issued token to verify")
	}
	if issuer.Verify("garbage") {
		t.Error("expected garbage token to fail")
	}

	// A token from a different issuer (different key) must fail.
	other, err := NewTokenIssuer()
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	otherToken, err := other.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issuer.Verify(otherToken) {
		t.Error("expected foreign token to fail")
	}
}
