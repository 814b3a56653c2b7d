// Package auth performs the OAuth code-for-token exchange and signs the state values
// that protect the callback.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidState = errors.New("invalid state")
	ErrExpiredState = errors.New("expired state")
)

const stateSubject = "oauth-state"

// IssueState returns a signed, short-lived value to round-trip through the identity provider.
func IssueState(secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   stateSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// VerifyState checks the signature and expiry of a state issued by IssueState.
func VerifyState(secret []byte, state string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredState
		}
		return ErrInvalidState
	}
	if claims.Subject != stateSubject {
		return ErrInvalidState
	}
	return nil
}

// HashToken is used wherever a bearer token would otherwise be stored as a key.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
