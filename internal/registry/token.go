package registry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// MintToken derives the client credential for a session: the standard base64
// encoding of HMAC-SHA256(secret, sessionID).
func MintToken(secret []byte, sessionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken reports whether token is a valid credential for the named
// session. The MAC comparison is constant-time; a token that fails base64
// decoding is simply invalid, with no distinct error surfaced to the caller.
func VerifyToken(secret []byte, name, token string) bool {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(name))
	return hmac.Equal(decoded, mac.Sum(nil))
}
