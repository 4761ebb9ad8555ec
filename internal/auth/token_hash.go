package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Session tokens are opaque random strings handed to chat clients in the
// session cookie or Authorization header. Only their sha256 digests reach
// the stores, so a leaked sessions table cannot be replayed against the API.

var errSessionTokenRequired = errors.New("session token required")

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashSessionToken(token string) (string, error) {
	if token == "" {
		return "", errSessionTokenRequired
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:]), nil
}

// generateHashedSessionToken returns a fresh token together with its at-rest
// digest, in that order.
func generateHashedSessionToken(length int) (string, string, error) {
	token, err := generateToken(length)
	if err != nil {
		return "", "", err
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hashed, nil
}
