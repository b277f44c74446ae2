// Package token validates HMAC-signed bearer tokens for the API layer.
package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"conflux/internal/platform/middleware"
)

// Validator checks HS256 tokens against a shared signing key.
type Validator struct {
	signingKey []byte
}

// NewValidator creates a Validator for the given key.
func NewValidator(signingKey string) *Validator {
	return &Validator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	subject, _ := claims.GetSubject()
	clientID, _ := claims["client_id"].(string)
	return &middleware.JWTClaims{Subject: subject, ClientID: clientID}, nil
}
