package registry

import (
	"encoding/base64"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	for _, id := range []string{"abc123XYZ0", "x", "0000000000"} {
		token := MintToken(secret, id)
		if !VerifyToken(secret, id, token) {
			t.Errorf("expected minted token for %q to verify", id)
		}
	}
}

func TestVerifyToken_WrongName(t *testing.T) {
	secret := []byte("test-secret")
	token := MintToken(secret, "abc123XYZ0")
	if VerifyToken(secret, "abc123XYZ1", token) {
		t.Error("expected verification to fail for a different session")
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token := MintToken([]byte("secret-a"), "abc123XYZ0")
	if VerifyToken([]byte("secret-b"), "abc123XYZ0", token) {
		t.Error("expected verification to fail with a different secret")
	}
}

func TestVerifyToken_BitFlips(t *testing.T) {
	secret := []byte("test-secret")
	id := "abc123XYZ0"
	token := MintToken(secret, id)

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode minted token: %v", err)
	}
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(raw))
			copy(mutated, raw)
			mutated[i] ^= 1 << bit
			if VerifyToken(secret, id, base64.StdEncoding.EncodeToString(mutated)) {
				t.Fatalf("expected mutated token (byte %d bit %d) to fail", i, bit)
			}
		}
	}
}

func TestVerifyToken_BadBase64(t *testing.T) {
	if VerifyToken([]byte("test-secret"), "abc123XYZ0", "!!!not-base64!!!") {
		t.Error("expected malformed base64 to fail verification")
	}
}
