// Package auth issues and verifies bearer tokens and hashes passwords.
//
// Tokens are HS256 JWTs whose subject is the account ID. Every protected
// route derives the acting account from the token; client-supplied account
// identifiers are never trusted.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoToken            = errors.New("authorization token required")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// MinPasswordLength is enforced by HashPassword.
const MinPasswordLength = 8

const issuer = "securebank"

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword compares password against a bcrypt hash. Any mismatch is
// reported as ErrInvalidCredentials.
func VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Claims is the JWT payload.
type Claims struct {
	AccountID string `json:"accountId"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies account tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a manager signing with secret; tokens live for ttl.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for accountID and its expiry.
func (m *TokenManager) Issue(accountID string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses raw (optionally "Bearer "-prefixed) and returns the account ID.
func (m *TokenManager) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return "", ErrNoToken
	}

	var claims Claims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	if claims.AccountID == "" || claims.AccountID != claims.Subject || claims.Issuer != issuer {
		return "", ErrInvalidToken
	}
	return claims.AccountID, nil
}
