// Package auth covers the admin API's credentials: bcrypt password checks
// and fernet bearer tokens. This is independent of the terminal protocol's
// session tokens, which live in the registry package.
package auth

import (
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenTTL is how long an issued admin token stays valid.
	TokenTTL = 1 * time.Hour

	BcryptCost = 12
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenIssuer mints and verifies admin bearer tokens. The fernet key is
// generated at startup, so admin tokens do not survive a server restart.
type TokenIssuer struct {
	key *fernet.Key
	ttl time.Duration
}

func NewTokenIssuer() (*TokenIssuer, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	return &TokenIssuer{key: &key, ttl: TokenTTL}, nil
}

// Issue mints a token for an authenticated admin.
func (t *TokenIssuer) Issue() (string, error) {
	tok, err := fernet.EncryptAndSign([]byte("admin"), t.key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return string(tok), nil
}

// Verify reports whether a presented token is valid and unexpired.
func (t *TokenIssuer) Verify(token string) bool {
	msg := fernet.VerifyAndDecrypt([]byte(token), t.ttl, []*fernet.Key{t.key})
	return msg != nil
}
