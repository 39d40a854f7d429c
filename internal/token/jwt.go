// Package token issues and validates the admin bearer token that gates
// the force-unlock and cache-reset diagnostic endpoints. There is no
// per-user token here: ordinary sync traffic is admitted by the external
// auth collaborator (§6), which the core treats as opaque.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies an admin-scoped bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

const adminScope = "admin"

// Admin issues and validates long-lived admin tokens backed by symmetric
// HMAC, the same mechanism the teacher stack used for access tokens.
type Admin struct {
	secretKey string
	ttl       time.Duration
}

// NewAdmin creates an admin token manager. ttl == 0 means tokens never
// expire, appropriate for an operator-held credential rotated out of band;
// a negative ttl issues tokens whose expiry is already in the past.
func NewAdmin(secretKey string, ttl time.Duration) *Admin {
	return &Admin{secretKey: secretKey, ttl: ttl}
}

// Generate issues a new admin token.
func (a *Admin) Generate() (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
		Scope: adminScope,
	}
	if a.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// Validate checks tokenString's signature, expiry, and scope.
func (a *Admin) Validate(tokenString string) error {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(a.secretKey), nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse admin token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("admin token is invalid")
	}
	if claims.Scope != adminScope {
		return fmt.Errorf("token scope mismatch: %s", claims.Scope)
	}
	return nil
}
